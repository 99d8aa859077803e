package i18n

import "net/http"

// Middleware injects a localizer into every request context, honoring the
// Accept-Language header and falling back to the default language.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := Negotiate(r.Header.Get("Accept-Language"))
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang))
			w.Header().Set("Content-Language", lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
