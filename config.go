package authclient

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// DefaultRequestTimeout bounds every API call.
const DefaultRequestTimeout = 15 * time.Second

// DefaultStorageMarkers are path segments that identify avatars stored by
// the API's public disk.
var DefaultStorageMarkers = []string{"/storage/", "storage/"}

// Config holds client options
type Config interface {
	GetBaseURL() string
	GetContentBaseURL() string
	GetRequestTimeout() time.Duration
	GetStorageMarkers() []string
	GetPhoneRegion() string
}

// Options is the plain struct implementation of Config.
type Options struct {
	// BaseURL is the API root, e.g. https://api.example.com/api
	BaseURL string `json:"base_url"`
	// ContentBaseURL is the root relative avatar paths are rebased onto
	ContentBaseURL string        `json:"content_base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	StorageMarkers []string      `json:"storage_markers"`
	// PhoneRegion is the CLDR region used to read numbers without a
	// country prefix, e.g. "ID" or "US"
	PhoneRegion string `json:"phone_region"`
}

var _ Config = Options{}

func (o Options) GetBaseURL() string {
	return o.BaseURL
}

func (o Options) GetContentBaseURL() string {
	return o.ContentBaseURL
}

func (o Options) GetRequestTimeout() time.Duration {
	if o.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return o.RequestTimeout
}

func (o Options) GetStorageMarkers() []string {
	if len(o.StorageMarkers) == 0 {
		return DefaultStorageMarkers
	}
	return o.StorageMarkers
}

func (o Options) GetPhoneRegion() string {
	return o.PhoneRegion
}

// Validate checks the options
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.BaseURL, validation.Required, is.URL),
		validation.Field(&o.ContentBaseURL, validation.Required, is.URL),
		validation.Field(&o.RequestTimeout, validation.Min(time.Duration(0))),
		validation.Field(&o.PhoneRegion, validation.Length(2, 2)),
	)
}

// ValidateConfig validates any Config implementation.
func ValidateConfig(cfg Config) error {
	if cfg == nil {
		return newError(ErrValidationFailed, nil, map[string]any{"config": "is nil"})
	}
	opts := Options{
		BaseURL:        cfg.GetBaseURL(),
		ContentBaseURL: cfg.GetContentBaseURL(),
		RequestTimeout: cfg.GetRequestTimeout(),
		StorageMarkers: cfg.GetStorageMarkers(),
		PhoneRegion:    cfg.GetPhoneRegion(),
	}
	if err := opts.Validate(); err != nil {
		return validationError(err)
	}
	return nil
}
