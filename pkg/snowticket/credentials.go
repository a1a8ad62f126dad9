// ServiceNow integration: outbound incident creation and the inbound
// assignment webhook.
package snowticket

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/function61/gokit/jsonfile"
)

// Credentials is the JSON document stored in AWS Secrets Manager.
type Credentials struct {
	Instance        string `json:"instance"` // "<instance>.service-now.com"
	ClientID        string `json:"client_id"`
	ClientSecret    string `json:"client_secret"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Caller          string `json:"caller,omitempty"`
	BusinessService string `json:"business_service,omitempty"`
	ServiceOffering string `json:"service_offering,omitempty"`
	Company         string `json:"company,omitempty"`
}

func (c *Credentials) callerOrUsername() string {
	if c.Caller != "" {
		return c.Caller
	}

	return c.Username
}

func CredentialsFromSecretsManager(ctx context.Context, sess *session.Session, secretName string) (*Credentials, error) {
	out, err := secretsmanager.New(sess).GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("CredentialsFromSecretsManager %s: %w", secretName, err)
	}

	creds := &Credentials{}
	if err := jsonfile.Unmarshal(strings.NewReader(aws.StringValue(out.SecretString)), creds, false); err != nil {
		return nil, fmt.Errorf("CredentialsFromSecretsManager %s: %w", secretName, err)
	}

	return creds, nil
}
