// Package redis provides a Redis-backed checkpoint store. Suitable when
// sessions are short-lived and a TTL-based retention policy is wanted; the
// sequence check is enforced with SetNX so concurrent resumers of the same
// session cannot both win.
package redis
