package sandbox

import (
	"context"
	"net/http"

	errors "github.com/frahmantamala/checkout/internal"
	sandboxDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/sandbox"
	"github.com/frahmantamala/checkout/internal/gateway"
	"github.com/frahmantamala/checkout/pkg/logger"
)

type merchantCtxKey struct{}

type Authenticator interface {
	Authenticate(ctx context.Context, apiKey, apiSecret string) (*sandboxDatamodel.Merchant, error)
}

func MerchantFromContext(ctx context.Context) (*sandboxDatamodel.Merchant, bool) {
	merchant, ok := ctx.Value(merchantCtxKey{}).(*sandboxDatamodel.Merchant)
	return merchant, ok && merchant != nil
}

func ContextWithMerchant(ctx context.Context, merchant *sandboxDatamodel.Merchant) context.Context {
	return context.WithValue(ctx, merchantCtxKey{}, merchant)
}

// MerchantAuth resolves the merchant from the api key and secret headers.
func MerchantAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			merchant, err := auth.Authenticate(r.Context(),
				r.Header.Get(gateway.HeaderAPIKey),
				r.Header.Get(gateway.HeaderAPISecret))
			if err != nil {
				appErr, ok := errors.IsAppError(err)
				if !ok {
					appErr = errors.NewInternalError("Failed to authenticate merchant", err)
				}
				writeDecline(w, appErr)
				return
			}

			ctx := ContextWithMerchant(r.Context(), merchant)
			ctx = logger.With(ctx, "merchant_id", merchant.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
