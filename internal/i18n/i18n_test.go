package i18n

import (
	"context"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "Diya" {
		t.Errorf("T(AppTitle) = %q, want 'Diya'", got)
	}

	got = T(ctx, "UngroundedNotice")
	if got == "UngroundedNotice" {
		t.Error("UngroundedNotice has no English translation")
	}
}

func TestTranslateHindi(t *testing.T) {
	ctx := initLang(t, "hi")

	got := T(ctx, "AppTitle")
	if got != "दीया" {
		t.Errorf("T(AppTitle) = %q, want 'दीया'", got)
	}

	got = T(ctx, "LoginFailed")
	if got == "LoginFailed" {
		t.Error("LoginFailed has no Hindi translation")
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "ChunksIndexed", 1)
	if got1 != "1 chunk indexed." {
		t.Errorf("Tp(ChunksIndexed, 1) = %q", got1)
	}

	got5 := Tp(ctx, "ChunksIndexed", 5)
	if got5 != "5 chunks indexed." {
		t.Errorf("Tp(ChunksIndexed, 5) = %q", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "LevelChanged", map[string]any{"Subject": "math", "Label": "advanced"})
	if got != "Your math level is now advanced." {
		t.Errorf("Td(LevelChanged) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want the key back", got)
	}
}
