package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hubertat/swvio/drivers"
	"github.com/hubertat/swvio/vio"
)

func newTestApi(t *testing.T) (*Server, *vio.Registry, *drivers.MockIoDriver) {
	t.Helper()

	md := &drivers.MockIoDriver{}
	require.NoError(t, md.Setup(context.Background()))

	board, err := vio.BoardByName("rpi-demo")
	require.NoError(t, err)
	r, err := vio.NewRegistry(md, board.Bindings, vio.WithLogger(log.New(io.Discard)), vio.WithValueCount(2))
	require.NoError(t, err)
	require.NoError(t, r.Initialize())

	s := NewServer("", r)
	s.logger = log.New(io.Discard)
	return s, r, md
}

func do(t *testing.T, h http.Handler, method, path, token string) (*httptest.ResponseRecorder, map[string]int64) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if len(token) > 0 {
		req.Header.Set(TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := map[string]int64{}
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestSetAndGetOutput(t *testing.T) {
	s, r, _ := newTestApi(t)
	h := s.Handler()

	rec, body := do(t, h, http.MethodPut, "/signals/out/0b1111/0x1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), body["shadow"])
	assert.Equal(t, vio.LED0, r.OutputShadow())

	rec, body = do(t, h, http.MethodPut, "/signals/out/2/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), body["shadow"])

	rec, body = do(t, h, http.MethodGet, "/signals/out", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), body["shadow"])

	rec, _ = do(t, h, http.MethodPut, "/signals/out/lots/1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// busyRegistry lets another writer land right after every write.
type busyRegistry struct {
	*vio.Registry
}

func (br busyRegistry) SetOutputSignal(mask, levels vio.Mask) vio.Mask {
	shadow := br.Registry.SetOutputSignal(mask, levels)
	br.Registry.SetOutputSignal(vio.LED3, vio.LED3)
	return shadow
}

func TestSetOutputReportsOwnWrite(t *testing.T) {
	_, r, _ := newTestApi(t)
	s := NewServer("", busyRegistry{r})
	s.logger = log.New(io.Discard)

	rec, body := do(t, s.Handler(), http.MethodPut, "/signals/out/1/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(vio.LED0), body["shadow"])
	assert.Equal(t, vio.LED0|vio.LED3, r.OutputShadow())
}

func TestGetInput(t *testing.T) {
	s, _, md := newTestApi(t)
	h := s.Handler()

	_, body := do(t, h, http.MethodGet, "/signals/in/1", "")
	assert.Equal(t, int64(0), body["signal"])

	require.NoError(t, md.SetInput(0, 24, drivers.Low))
	_, body = do(t, h, http.MethodGet, "/signals/in/1", "")
	assert.Equal(t, int64(1), body["signal"])
	assert.Equal(t, int64(1), body["mask"])
}

func TestValues(t *testing.T) {
	s, r, _ := newTestApi(t)
	h := s.Handler()

	rec, body := do(t, h, http.MethodPut, "/values/1/-12", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(-12), body["value"])
	assert.Equal(t, int32(-12), r.GetValue(1))

	_, body = do(t, h, http.MethodGet, "/values/1", "")
	assert.Equal(t, int64(-12), body["value"])

	// out of range is accepted and ignored
	rec, body = do(t, h, http.MethodPut, "/values/5/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), body["value"])

	rec, _ = do(t, h, http.MethodPut, "/values/0/99999999999", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/values/x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToken(t *testing.T) {
	s, _, _ := newTestApi(t)
	s.Token = "==plain=="
	h := s.Handler()

	rec, _ := do(t, h, http.MethodGet, "/signals/out", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/signals/out", "==plain==")
	assert.Equal(t, http.StatusOK, rec.Code)

	hash, err := bcrypt.GenerateFromPassword([]byte("==hashed=="), bcrypt.MinCost)
	require.NoError(t, err)
	s.TokenHash = string(hash)

	rec, _ = do(t, h, http.MethodGet, "/signals/out", "==plain==")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/signals/out", "==hashed==")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRemoteIoAgainstServer(t *testing.T) {
	s, r, md := newTestApi(t)
	s.Token = "lan"
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	rio := &drivers.RemoteIO{Host: server.URL, Token: "lan"}
	require.NoError(t, rio.Setup(context.Background()))
	require.NoError(t, rio.ConfigureOutput(0, 2))
	require.NoError(t, rio.ConfigureInput(0, 0, drivers.PullNoChange))

	require.NoError(t, rio.Write(0, 2, drivers.High))
	assert.Equal(t, vio.LED2, r.OutputShadow())

	// BUTTON0 is active-low on BCM 24
	require.NoError(t, md.SetInput(0, 24, drivers.Low))
	level, err := rio.Read(0, 0)
	require.NoError(t, err)
	assert.Equal(t, drivers.High, level)

	rio.Token = "wan"
	assert.Error(t, rio.Write(0, 2, drivers.Low))
	assert.Equal(t, vio.LED2, r.OutputShadow())
}
