package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/function61/certwatch/pkg/snowticket"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
	"github.com/spf13/cobra"
)

func lambdaEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda handler",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			lambda.Start(lambdaHandler)
		},
	}
}

// One deployable, three triggers: the scheduled sweep timer, the
// spreadsheet upload bucket notification and the API gateway webhook.
// Sniff which one invoked us from the event's shape.
func lambdaHandler(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	probe := struct {
		Source  string `json:"source"`
		Records []struct {
			EventSource string `json:"eventSource"`
		} `json:"Records"`
		HTTPMethod string `json:"httpMethod"`
	}{}
	_ = jsonfile.Unmarshal(bytes.NewReader(raw), &probe, false)

	switch {
	case probe.Source == "aws.events":
		return nil, runSweep(ctx, sweepFlags{
			twoTier: os.Getenv("TWO_TIER_POLICY") != "",
		})
	case len(probe.Records) > 0 && probe.Records[0].EventSource == "aws:s3":
		s3Event := events.S3Event{}
		if err := jsonfile.Unmarshal(bytes.NewReader(raw), &s3Event, false); err != nil {
			return nil, err
		}

		for _, record := range s3Event.Records {
			if err := importExcel(ctx, record.S3.Bucket.Name, record.S3.Object.Key); err != nil {
				return nil, err
			}
		}

		return nil, nil
	case probe.HTTPMethod != "":
		request := events.APIGatewayProxyRequest{}
		if err := jsonfile.Unmarshal(bytes.NewReader(raw), &request, false); err != nil {
			return nil, err
		}

		return webhookLambda(ctx, request)
	}

	return nil, fmt.Errorf("unrecognized lambda event")
}

func webhookLambda(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	rootLogger := logex.StandardLogger()

	registry, _, err := registryFromEnv(rootLogger)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	body := []byte(request.Body)

	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		signature := request.Headers["X-ServiceNow-Signature"]
		if signature == "" {
			signature = request.Headers["x-servicenow-signature"]
		}

		if !snowticket.ValidateSignature(secret, body, signature) {
			return apiGatewayError(http.StatusUnauthorized, "invalid signature"), nil
		}
	}

	payload := snowticket.WebhookPayload{}
	if err := jsonfile.Unmarshal(bytes.NewReader(body), &payload, false); err != nil {
		return apiGatewayError(http.StatusBadRequest, err.Error()), nil
	}

	newStatus, err := snowticket.ProcessWebhook(ctx, registry, payload)
	if err != nil {
		return apiGatewayError(http.StatusBadRequest, err.Error()), nil
	}

	response := &bytes.Buffer{}
	_ = jsonfile.Marshal(response, struct {
		CertificateID string `json:"certificate_id"`
		NewStatus     string `json:"new_status"`
	}{
		CertificateID: payload.CorrelationID,
		NewStatus:     string(newStatus),
	})

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       response.String(),
	}, nil
}

func apiGatewayError(code int, message string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: code,
		Body:       message,
	}
}
