package certregistry

import (
	"os"

	"github.com/function61/gokit/envvar"
)

type Config struct {
	CertificatesTable string
	LogsTable         string
	Region            string
}

func ConfigFromEnv() (*Config, error) {
	certificatesTable, err := envvar.Required("CERTIFICATES_TABLE")
	if err != nil {
		return nil, err
	}

	logsTable, err := envvar.Required("LOGS_TABLE")
	if err != nil {
		return nil, err
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "eu-west-1"
	}

	return &Config{
		CertificatesTable: certificatesTable,
		LogsTable:         logsTable,
		Region:            region,
	}, nil
}
