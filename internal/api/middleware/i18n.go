package middleware

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// I18nConfig configures the i18n middleware.
type I18nConfig struct {
	DefaultLanguage string
	LocalesDir      string
}

// Translator holds the translation functionality.
type Translator struct {
	bundle       *i18n.Bundle
	localizer    map[string]*i18n.Localizer
	translations map[string]map[string]interface{}
}

// NewTranslator creates a new translator from the JSON locale files in
// LocalesDir (one file per language, e.g. "en.json").
func NewTranslator(config I18nConfig) (*Translator, error) {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en"
	}
	if config.LocalesDir == "" {
		config.LocalesDir = "./web/locales"
	}

	bundle := i18n.NewBundle(language.MustParse(config.DefaultLanguage))
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:       bundle,
		localizer:    make(map[string]*i18n.Localizer),
		translations: make(map[string]map[string]interface{}),
	}

	localeFiles, err := os.ReadDir(config.LocalesDir)
	if err != nil {
		return nil, err
	}

	for _, file := range localeFiles {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		langCode := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))

		filePath := filepath.Join(config.LocalesDir, file.Name())
		if _, err := bundle.LoadMessageFile(filePath); err != nil {
			return nil, err
		}

		t.localizer[langCode] = i18n.NewLocalizer(bundle, langCode)

		// Also keep the full file as a flat map for direct template access
		// (e.g. "recognize.no_face").
		var translations map[string]interface{}
		jsonData, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(jsonData, &translations); err != nil {
			return nil, err
		}
		t.translations[langCode] = flattenMap(translations, "")
	}

	return t, nil
}

// Languages returns the loaded language codes.
func (t *Translator) Languages() []string {
	langs := make([]string, 0, len(t.translations))
	for lang := range t.translations {
		langs = append(langs, lang)
	}
	return langs
}

func (t *Translator) has(lang string) bool {
	_, ok := t.translations[lang]
	return ok
}

// lookup resolves key in lang, falling back to the default language and
// finally to the key itself. Non-string leaf values (possible in hand-edited
// locale files) are skipped, not asserted.
func (t *Translator) lookup(lang, defaultLang, key string) string {
	if val, ok := t.translations[lang][key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	if val, ok := t.translations[defaultLang][key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return key
}

// I18n creates a middleware that resolves the request language (query
// parameter, then session, then default) and installs a "t" lookup function
// into the context.
func I18n(config I18nConfig) gin.HandlerFunc {
	translator, err := NewTranslator(config)
	if err != nil {
		// Fall back to a pass-through middleware; user-facing strings then
		// surface as their keys.
		return func(c *gin.Context) {
			c.Set("t", func(key string, args ...interface{}) string { return key })
			c.Next()
		}
	}

	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && translator.has(lang) {
			session.Set("language", lang)
			session.Save()
		} else {
			if sessionLang, ok := session.Get("language").(string); ok {
				lang = sessionLang
			}
		}

		if lang == "" || !translator.has(lang) {
			lang = config.DefaultLanguage
		}

		c.Set("language", lang)
		c.Set("translator", translator)

		c.Set("t", func(key string, args ...interface{}) string {
			return translator.lookup(lang, config.DefaultLanguage, key)
		})

		c.Next()
	}
}

// flattenMap flattens nested maps for simpler access (e.g. "app.title"
// instead of app["title"]).
func flattenMap(input map[string]interface{}, prefix string) map[string]interface{} {
	result := make(map[string]interface{})

	for k, v := range input {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch child := v.(type) {
		case map[string]interface{}:
			for childKey, childValue := range flattenMap(child, key) {
				result[childKey] = childValue
			}
		default:
			result[key] = v
		}
	}

	return result
}
