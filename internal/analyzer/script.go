package analyzer

import (
	"strings"

	"github.com/longbridgeapp/opencc"
	"github.com/sirupsen/logrus"
)

// Converter rewrites text between Chinese script variants.
type Converter interface {
	Convert(s string) string
}

type identity struct{}

func (identity) Convert(s string) string { return s }

type openccConverter struct {
	cc     *opencc.OpenCC
	logger *logrus.Logger
}

func (o *openccConverter) Convert(s string) string {
	out, err := o.cc.Convert(s)
	if err != nil {
		o.logger.WithError(err).Warn("script conversion failed, keeping original text")
		return s
	}
	return out
}

// NewConverter returns an opencc converter for profile (for example "s2t").
// An empty profile, or one that fails to load, yields a pass-through converter.
func NewConverter(profile string, logger *logrus.Logger) Converter {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return identity{}
	}
	cc, err := opencc.New(profile)
	if err != nil {
		logger.WithError(err).WithField("profile", profile).Warn("opencc unavailable, script conversion disabled")
		return identity{}
	}
	return &openccConverter{cc: cc, logger: logger}
}
