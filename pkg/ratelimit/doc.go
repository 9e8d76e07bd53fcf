// Package ratelimit implements fixed-window admission control and per-resource cooldowns.
//
// # Counters
//
// Counters are keyed "profile:kind:id" (for example "auth:ip:203.0.113.9") and live in a
// CounterStore. MemoryStore keeps them in-process behind sharded locks; RedisStore runs the
// read-decide-write as a Lua script so several processes can share budgets.
//
//	store := ratelimit.NewMemoryStore()
//	registry, _ := ratelimit.NewRegistry(ratelimit.DefaultProfiles())
//	limiter := ratelimit.NewLimiter(store, registry)
//
//	res, err := limiter.CheckLayered(ctx, ratelimit.ProfileEmailSend, ip, ratelimit.UserScope(userID))
//	if err == nil && !res.Allowed {
//		// 429 with res.Message()
//	}
//
// # Cooldowns
//
// A cooldown is a Take with limit 1 on "cooldown:type:resource":
//
//	guard, _ := ratelimit.NewCooldownGuard(store, ratelimit.DefaultCooldowns())
//	res, _ := guard.Check(ctx, invoiceID, ratelimit.CooldownInvoiceSend)
//
// # Sweeping
//
// Sweeper removes expired counters on a cron schedule. It only bounds memory; expired
// counters are already treated as fresh by Take.
package ratelimit
