package lazybuffer

import (
	"fmt"
	"strings"
	"sync"
	"weak"

	"lazysched/internal/buffer"
	"lazysched/internal/dtype"
	"lazysched/internal/ops"
	"lazysched/internal/shapetracker"
)

type cacheKey string

func stDigest(st shapetracker.ShapeTracker) string {
	return st.Digest()
}

func baseKey(device string, st shapetracker.ShapeTracker, dt dtype.DType, op ops.Op, arg any, srcs []*LazyBuffer) cacheKey {
	var sb strings.Builder
	fmt.Fprintf(&sb, "B|%s|%s|%s|%s|%v|", device, stDigest(st), dt.String(), op.String(), arg)
	for _, s := range srcs {
		fmt.Fprintf(&sb, "%p,", s)
	}
	return cacheKey(sb.String())
}

func viewKey(st shapetracker.ShapeTracker, base *LazyBuffer) cacheKey {
	return cacheKey(fmt.Sprintf("V|%s|%p", stDigest(st), base))
}

var (
	cacheMu sync.RWMutex
	cache   = map[cacheKey]weak.Pointer[LazyBuffer]{}
)

func cacheGet(k cacheKey) (*LazyBuffer, bool) {
	cacheMu.RLock()
	wp, ok := cache[k]
	cacheMu.RUnlock()
	if !ok {
		return nil, false
	}
	v := wp.Value()
	if v == nil {
		cacheMu.Lock()
		delete(cache, k)
		cacheMu.Unlock()
		return nil, false
	}
	return v, true
}

func cachePut(k cacheKey, v *LazyBuffer) {
	cacheMu.Lock()
	cache[k] = weak.Make(v)
	cacheMu.Unlock()
}

// NewBase constructs (or returns the cached) base node for the given
// identity tuple. Caching is skipped when enableCache is false or the
// LAZYCACHE environment toggle disables the cache globally.
func NewBase(device string, st shapetracker.ShapeTracker, dt dtype.DType, op ops.Op, arg any, srcs []*LazyBuffer, enableCache bool) *LazyBuffer {
	useCache := enableCache && cfg().LazyCache
	var key cacheKey
	if useCache {
		key = baseKey(device, st, dt, op, arg, srcs)
		if v, ok := cacheGet(key); ok {
			return v
		}
	}
	lb := &LazyBuffer{Device: device, ST: st, DType: dt, Op: op, Arg: arg, Srcs: srcs}
	lb.Base = lb
	lb.Buf = buffer.New(device, st.Size(), dt)
	if useCache {
		cachePut(key, lb)
	}
	return lb
}

// NewView constructs (or returns the cached) view node over base with
// the given fully-composed ShapeTracker. A view whose tracker is
// contiguous and shape-equal to the base's own shape collapses to the
// base itself, per the movement-op collapse rule.
func NewView(base *LazyBuffer, st shapetracker.ShapeTracker) *LazyBuffer {
	if st.Contiguous() && shapetracker.DimsEqual(st.Shape(), base.ST.Shape()) {
		return base
	}
	if cfg().LazyCache {
		key := viewKey(st, base)
		if v, ok := cacheGet(key); ok {
			return v
		}
		lb := &LazyBuffer{Device: base.Device, ST: st, DType: base.DType, Base: base}
		cachePut(key, lb)
		return lb
	}
	return &LazyBuffer{Device: base.Device, ST: st, DType: base.DType, Base: base}
}
