package billing

import (
	"context"
	"fmt"
	"time"
)

// Cache is the key-value cache contract the lifecycles depend on. Keys are
// namespaced per entity kind (invoice:*, service:*, coupon:*). Implemented
// by storage/rediscache; a Noop implementation exists for tests.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	Del(ctx context.Context, keys ...string) bool
	DelPattern(ctx context.Context, pattern string) bool
}

// Observed cache TTLs: list views 120-180s, by-id/by-reference views
// 180-300s.
const (
	invoiceTTL     = 300 * time.Second
	invoiceListTTL = 120 * time.Second
	serviceTTL     = 300 * time.Second
	serviceListTTL = 180 * time.Second
	couponTTL      = 180 * time.Second
)

func invoiceKey(id string) string {
	return fmt.Sprintf("invoice:%s", id)
}

func invoiceTxnKey(transactionID string) string {
	return fmt.Sprintf("invoice:txn:%s", transactionID)
}

func userInvoicesKey(userID string) string {
	return fmt.Sprintf("invoice:user:%s:list", userID)
}

func serviceKey(id string) string {
	return fmt.Sprintf("service:%s", id)
}

func userServicesKey(ownerID string) string {
	return fmt.Sprintf("service:user:%s:list", ownerID)
}

func couponKey(code string) string {
	return fmt.Sprintf("coupon:%s", code)
}

// invalidateInvoice clears every cache entry an invoice mutation can
// affect: by-id, by-transaction, list views, and the owner's list. Runs
// before the mutation returns so a read cannot race a stale entry.
func invalidateInvoice(ctx context.Context, cache Cache, inv *Invoice) {
	keys := []string{invoiceKey(inv.ID), userInvoicesKey(inv.UserID)}
	if inv.TransactionID != nil {
		keys = append(keys, invoiceTxnKey(*inv.TransactionID))
	}
	cache.Del(ctx, keys...)
	cache.DelPattern(ctx, "invoice:list:*")
}

func invalidateService(ctx context.Context, cache Cache, svc *Service) {
	cache.Del(ctx, serviceKey(svc.ID), userServicesKey(svc.ServiceOwnerID))
	cache.DelPattern(ctx, "service:list:*")
}

// NoopCache satisfies Cache without storing anything
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }

func (NoopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	return true
}

func (NoopCache) Del(ctx context.Context, keys ...string) bool { return true }

func (NoopCache) DelPattern(ctx context.Context, pattern string) bool { return true }
