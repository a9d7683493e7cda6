package database

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dandantas/tabwatch/internal/model"
	"github.com/dandantas/tabwatch/internal/session"
	"github.com/dandantas/tabwatch/internal/testutil"
)

func newRedisKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisKV(rdb), mr
}

func TestRedisKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, _ := newRedisKV(t)

	_, found, err := kv.Get(ctx, "missing")
	testutil.AssertNotError(t, err, "get missing")
	testutil.Assert(t, !found, "missing key not found")

	testutil.AssertNotError(t, kv.Set(ctx, "a", "1", 0), "set")
	v, found, err := kv.Get(ctx, "a")
	testutil.AssertNotError(t, err, "get")
	testutil.Assert(t, found, "key found")
	testutil.AssertEquals(t, v, "1")

	testutil.AssertNotError(t, kv.Delete(ctx, "a", "never-set"), "delete")
	_, found, _ = kv.Get(ctx, "a")
	testutil.Assert(t, !found, "deleted key gone")
}

func TestRedisKVExpiry(t *testing.T) {
	ctx := context.Background()
	kv, mr := newRedisKV(t)

	testutil.AssertNotError(t, kv.Set(ctx, "a", "1", time.Minute), "set")
	mr.FastForward(2 * time.Minute)
	_, found, _ := kv.Get(ctx, "a")
	testutil.Assert(t, !found, "expired key gone")
}

func TestRedisKVKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	kv, _ := newRedisKV(t)

	for _, k := range []string{"p:job:1:data", "p:job:2:data", "p:current_job", "other:job:3:data"} {
		testutil.AssertNotError(t, kv.Set(ctx, k, "v", 0), "set "+k)
	}
	keys, err := kv.Keys(ctx, "p:job:")
	testutil.AssertNotError(t, err, "keys")
	sort.Strings(keys)
	testutil.AssertEquals(t, keys, []string{"p:job:1:data", "p:job:2:data"})
}

func TestSessionStoreOnRedis(t *testing.T) {
	ctx := context.Background()
	kv, _ := newRedisKV(t)
	store := session.NewStore(kv, session.WithPrefix("tw:"))

	store.SaveJob(ctx, model.JobRecord{JobID: "job-1", Credential: "secret"})
	testutil.AssertEquals(t, store.GetCurrentJob(ctx), "job-1")
	testutil.AssertEquals(t, store.GetCredential(ctx, "job-1"), "secret")

	store.UpdateStatus(ctx, "job-1", model.StatusCompleted, "r1")
	rec := store.GetJobData(ctx, "job-1")
	testutil.AssertEquals(t, rec.ResultID, "r1")

	store.ClearJob(ctx, "job-1")
	testutil.AssertEquals(t, store.GetCurrentJob(ctx), "")
}

func TestEscapeGlob(t *testing.T) {
	testutil.AssertEquals(t, escapeGlob(`a*b?[c]\`), `a\*b\?\[c\]\\`)
}
