// Expiry notification emails via SES.
package emailnotify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/function61/certwatch/pkg/cwdomain"
	"github.com/function61/gokit/logex"
)

const charset = "UTF-8"

type Sender struct {
	ses           *ses.SES
	senderAddress string
	thresholdDays int
	logl          *logex.Leveled
}

func New(sess *session.Session, senderAddress string, thresholdDays int, logger *log.Logger) *Sender {
	return &Sender{
		ses:           ses.New(sess),
		senderAddress: senderAddress,
		thresholdDays: thresholdDays,
		logl:          logex.Levels(logger),
	}
}

// SendExpiryAlert emails one recipient about all of their expiring
// certificates in a single message. Delivery is best-effort; the caller's
// status writes are already persisted and are never rolled back on failure.
func (s *Sender) SendExpiryAlert(
	ctx context.Context,
	recipient string,
	records []cwdomain.Record,
	today time.Time,
) error {
	if len(records) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Certificate Expiry Alert - %d Certificate(s) Expiring Soon", len(records))

	bodyText := textBody(records, s.thresholdDays, today)
	bodyHTML, err := htmlBody(records, s.thresholdDays, today)
	if err != nil {
		return fmt.Errorf("SendExpiryAlert: render: %w", err)
	}

	if _, err := s.ses.SendEmailWithContext(ctx, &ses.SendEmailInput{
		Source: aws.String(s.senderAddress),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(recipient)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{Data: aws.String(subject), Charset: aws.String(charset)},
			Body: &ses.Body{
				Text: &ses.Content{Data: aws.String(bodyText), Charset: aws.String(charset)},
				Html: &ses.Content{Data: aws.String(bodyHTML), Charset: aws.String(charset)},
			},
		},
	}); err != nil {
		return fmt.Errorf("SendExpiryAlert to %s: %w", recipient, err)
	}

	s.logl.Info.Printf("sent expiry alert to %s (%d certificates)", recipient, len(records))

	return nil
}
