package s3

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"groupdrive/internal/config"
)

const (
	headTimeout = 15 * time.Second
	putTimeout  = 10 * time.Minute
)

// Config параметры подключения к бакету архива
type Config struct {
	Endpoint        string `validate:"omitempty,url"`
	Region          string `validate:"required"`
	AccessKeyID     string `validate:"required"`
	SecretAccessKey string `validate:"required"`
	Bucket          string `validate:"required"`
}

// NewConfig настройки клиента из секции Archive
func NewConfig(archive config.ArchiveConfig) *Config {
	return &Config{
		Endpoint:        archive.Endpoint,
		Region:          archive.Region,
		AccessKeyID:     archive.AccessKeyID,
		SecretAccessKey: archive.SecretAccessKey,
		Bucket:          archive.Bucket,
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("archive %s: failed on %s", verrs[0].Field(), verrs[0].Tag())
		}
		return err
	}
	return nil
}
