package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "Correct"); got != "Correct!" {
		t.Errorf("T(Correct) = %q, want 'Correct!'", got)
	}
	if got := T(ctx, "AttemptNotFound"); got != "Attempt not found." {
		t.Errorf("T(AttemptNotFound) = %q, want 'Attempt not found.'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "Correct"); got != "Верно!" {
		t.Errorf("T(Correct) = %q, want 'Верно!'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsToStudy", 1); got != "1 question needs more study." {
		t.Errorf("Tp(QuestionsToStudy, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsToStudy", 4); got != "4 questions need more study." {
		t.Errorf("Tp(QuestionsToStudy, 4) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestContextWithoutLocalizer(t *testing.T) {
	initLang(t, "en")

	if got := T(context.Background(), "Correct"); got != "Correct!" {
		t.Errorf("T without localizer = %q, want default language", got)
	}
}

func TestNegotiate(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"ru-RU,ru;q=0.9,en;q=0.8", "ru"},
		{"de-DE", "en"},
		{"en-GB", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := Negotiate(tt.header); got != tt.want {
				t.Errorf("Negotiate(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	initLang(t, "en")

	var got string
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "Correct")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got != "Верно!" {
		t.Errorf("translated = %q, want 'Верно!'", got)
	}
	if rec.Header().Get("Content-Language") != "ru" {
		t.Errorf("Content-Language = %q, want ru", rec.Header().Get("Content-Language"))
	}
}
