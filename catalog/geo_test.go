package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestDistanceMiles(t *testing.T) {
	boston := ServiceAreas["boston"]
	require.Zero(t, DistanceMiles(boston, boston))

	// Boston to Newton is roughly eight miles.
	d := DistanceMiles(boston, ServiceAreas["newton"])
	require.InDelta(t, 7.9, d, 0.5)
	require.InDelta(t, d, DistanceMiles(ServiceAreas["newton"], boston), 1e-9)
}

func TestNormalizePlace(t *testing.T) {
	require.Equal(t, "boston", normalizePlace("  Boston, MA "))
	require.Equal(t, "south end", normalizePlace("South   End"))
	require.Equal(t, "paris, france", normalizePlace("Paris, France"))
}

func TestGazetteer(t *testing.T) {
	g := NewGazetteer(ServiceAreas)
	c, ok, err := g.Geocode(context.Background(), "BROOKLINE, ma")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ServiceAreas["brookline"], c)

	_, ok, err = g.Geocode(context.Background(), "Springfield")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChain(t *testing.T) {
	failing := &stubGeocoder{err: errors.New("down")}
	hit := &stubGeocoder{coords: Coordinates{Lat: 1, Lon: 2}, found: true}

	c, ok, err := Chain{NewGazetteer(ServiceAreas), failing, hit}.Geocode(context.Background(), "Worcester")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Coordinates{Lat: 1, Lon: 2}, c)

	_, ok, err = Chain{NewGazetteer(ServiceAreas), failing}.Geocode(context.Background(), "Worcester")
	require.False(t, ok)
	require.ErrorContains(t, err, "down")
}

func TestNominatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		switch r.URL.Query().Get("q") {
		case "Worcester":
			_, _ = w.Write([]byte(`[{"lat":"42.2626","lon":"-71.8023","display_name":"Worcester"}]`))
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	n, err := NewNominatim(srv.URL, "test-agent", 100, srv.Client())
	require.NoError(t, err)

	c, ok, err := n.Geocode(context.Background(), "Worcester")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 42.2626, c.Lat, 1e-9)

	_, ok, err = n.Geocode(context.Background(), "nowhere")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = n.Geocode(context.Background(), "broken")
	require.ErrorContains(t, err, "status 502")
}

func TestNewNominatim_Validates(t *testing.T) {
	_, err := NewNominatim("", "ua", 1, nil)
	require.Error(t, err)
	_, err = NewNominatim("http://x", " ", 1, nil)
	require.Error(t, err)
}

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func (f *fakeKV) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func TestCachedGeocoder_MemoizesHitsAndMisses(t *testing.T) {
	next := &stubGeocoder{coords: Coordinates{Lat: 10, Lon: 20}, found: true}
	kv := &fakeKV{data: map[string]string{}}
	g := NewCachedGeocoder(next, kv, time.Hour, 0, nil)

	for i := 0; i < 3; i++ {
		c, ok, err := g.Geocode(context.Background(), "Salem, MA")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, Coordinates{Lat: 10, Lon: 20}, c)
	}
	require.Equal(t, 1, next.calls)
	require.Equal(t, "10,20", kv.data["geocode:salem"])

	next.found = false
	_, ok, err := g.Geocode(context.Background(), "Lowell")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "-", kv.data["geocode:lowell"])
}

func TestCachedGeocoder_ReadsRedis(t *testing.T) {
	next := &stubGeocoder{}
	kv := &fakeKV{data: map[string]string{"geocode:quincy": "42.25,-71"}}
	g := NewCachedGeocoder(next, kv, 0, 0, nil)

	c, ok, err := g.Geocode(context.Background(), "Quincy")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Coordinates{Lat: 42.25, Lon: -71}, c)
	require.Zero(t, next.calls)
}

func TestCachedGeocoder_DoesNotCacheErrors(t *testing.T) {
	next := &stubGeocoder{err: errors.New("boom")}
	g := NewCachedGeocoder(next, nil, 0, 0, nil)

	_, _, err := g.Geocode(context.Background(), "Lynn")
	require.Error(t, err)
	_, _, err = g.Geocode(context.Background(), "Lynn")
	require.Error(t, err)
	require.Equal(t, 2, next.calls)
}

func TestDecodeEntry(t *testing.T) {
	_, err := decodeEntry("garbage")
	require.Error(t, err)

	e, err := decodeEntry("-")
	require.NoError(t, err)
	require.False(t, e.found)
}

// gatedGeocoder blocks every lookup until release is closed or its context
// ends.
type gatedGeocoder struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   int
}

func (g *gatedGeocoder) Geocode(ctx context.Context, place string) (Coordinates, bool, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return Coordinates{Lat: 42.25, Lon: -71}, true, nil
	case <-ctx.Done():
		return Coordinates{}, false, ctx.Err()
	}
}

func TestCachedGeocoder_CallerCancelDoesNotFailOthers(t *testing.T) {
	next := &gatedGeocoder{entered: make(chan struct{}), release: make(chan struct{})}
	g := NewCachedGeocoder(next, nil, 0, 5*time.Second, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, _, err := g.Geocode(leaderCtx, "Quincy")
		leader <- err
	}()
	<-next.entered

	cancelLeader()
	require.ErrorIs(t, <-leader, context.Canceled)

	type result struct {
		c   Coordinates
		ok  bool
		err error
	}
	other := make(chan result, 1)
	go func() {
		c, ok, err := g.Geocode(context.Background(), "Quincy")
		other <- result{c, ok, err}
	}()

	close(next.release)
	res := <-other
	require.NoError(t, res.err)
	require.True(t, res.ok)
	require.Equal(t, Coordinates{Lat: 42.25, Lon: -71}, res.c)

	next.mu.Lock()
	defer next.mu.Unlock()
	require.Equal(t, 1, next.calls)
}

func TestCachedGeocoder_SharedLookupIsBounded(t *testing.T) {
	next := &gatedGeocoder{entered: make(chan struct{}), release: make(chan struct{})}
	g := NewCachedGeocoder(next, nil, 0, 20*time.Millisecond, nil)

	_, _, err := g.Geocode(context.Background(), "Braintree")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
