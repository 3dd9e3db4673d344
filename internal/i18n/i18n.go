// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package i18n localizes voter-facing messages and the voting link email.
package i18n

import (
	"context"
	"embed"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed translations/*.toml
var translationFS embed.FS

// Supported lists the languages with a translation file, default first.
var Supported = []language.Tag{
	language.English,
	language.German,
}

var (
	bundle  *i18n.Bundle
	matcher = language.NewMatcher(Supported)
)

type localeContextKey struct{}
type localizerContextKey struct{}

// Init initializes the i18n bundle with embedded translations.
func Init() error {
	b := i18n.NewBundle(Supported[0])
	b.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, tag := range Supported {
		if _, err := b.LoadMessageFileFS(translationFS, "translations/active."+tag.String()+".toml"); err != nil {
			return err
		}
	}

	bundle = b
	return nil
}

// WithLocale adds the locale to the context.
func WithLocale(ctx context.Context, lang language.Tag) context.Context {
	locale := lang.String()
	ctx = context.WithValue(ctx, localeContextKey{}, locale)
	localizer := i18n.NewLocalizer(bundle, locale)
	return context.WithValue(ctx, localizerContextKey{}, localizer)
}

// GetLocale returns the current locale from context.
func GetLocale(ctx context.Context) string {
	if locale, ok := ctx.Value(localeContextKey{}).(string); ok {
		return locale
	}
	return "en"
}

// T translates a message by ID.
func T(ctx context.Context, messageID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: messageID})
}

// TData translates a message with template data.
func TData(ctx context.Context, messageID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
}

// TPlural translates a message with plural support.
func TPlural(ctx context.Context, messageID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    messageID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

// MatchLanguage matches the best language from Accept-Language header.
func MatchLanguage(acceptLanguage string) language.Tag {
	tag, _ := language.MatchStrings(matcher, acceptLanguage)
	base, _ := tag.Base()
	return language.Make(base.String())
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	msg, err := getLocalizer(ctx).Localize(cfg)
	if err != nil {
		return cfg.MessageID
	}
	return msg
}

func getLocalizer(ctx context.Context) *i18n.Localizer {
	if localizer, ok := ctx.Value(localizerContextKey{}).(*i18n.Localizer); ok {
		return localizer
	}
	return i18n.NewLocalizer(bundle, "en")
}
