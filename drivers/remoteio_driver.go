package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const remoteioDriverName = "remoteio"
const remoteIoNetClientTimeout = 2 * time.Second
const remoteIoTokenHeader = "vio-token"
const remoteIoMaxPin = 31

// RemoteIO drives the signals of another swvio instance over its HTTP api.
// Pin n is remote signal bit n, port must be 0. The remote side applies its
// own polarity.
type RemoteIO struct {
	Host  string
	Token string

	client  *http.Client
	lock    sync.Mutex
	inputs  map[uint8]bool
	outputs map[uint8]bool
	isReady bool
}

type remoteSignalResponse struct {
	Mask   uint32 `json:"mask"`
	Shadow uint32 `json:"shadow"`
	Signal uint32 `json:"signal"`
}

func (rio *RemoteIO) remoteRequest(ctx context.Context, method, path string) (signal remoteSignalResponse, err error) {
	reqUrl, err := url.Parse(rio.Host)
	if err != nil {
		err = errors.Wrap(err, "RemoteIO failed to parse Host url")
		return
	}
	reqUrl, err = reqUrl.Parse(path)
	if err != nil {
		err = errors.Wrapf(err, "RemoteIO error parsing url (%s)", path)
		return
	}
	req, err := http.NewRequestWithContext(ctx, method, reqUrl.String(), nil)
	if err != nil {
		err = errors.Wrap(err, "RemoteIO error preparing request")
		return
	}
	if len(rio.Token) > 0 {
		req.Header.Add(remoteIoTokenHeader, rio.Token)
	}

	response, err := rio.client.Do(req)
	if err != nil {
		err = errors.Wrapf(err, "RemoteIO request %s %s failed", method, path)
		return
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		err = errors.Errorf("RemoteIO %s %s failed (response code: %d)", method, path, response.StatusCode)
		return
	}

	err = json.NewDecoder(response.Body).Decode(&signal)
	if err != nil {
		err = errors.Wrap(err, "RemoteIO decoding response failed")
	}
	return
}

func checkRemotePin(port, pin uint8) error {
	if port != 0 {
		return errors.Errorf("RemoteIO has no port %d", port)
	}
	if pin > remoteIoMaxPin {
		return errors.Errorf("RemoteIO signal %d out of range", pin)
	}
	return nil
}

func (rio *RemoteIO) Setup(ctx context.Context) error {
	rio.lock.Lock()
	defer rio.lock.Unlock()

	if rio.client == nil {
		rio.client = &http.Client{Timeout: remoteIoNetClientTimeout}
	}
	rio.inputs = make(map[uint8]bool)
	rio.outputs = make(map[uint8]bool)

	_, err := rio.remoteRequest(ctx, http.MethodGet, "signals/out")
	if err != nil {
		return errors.Wrap(err, "RemoteIO Setup: remote not reachable")
	}

	rio.isReady = true
	return nil
}

func (rio *RemoteIO) ConfigureOutput(port, pin uint8) error {
	if err := checkRemotePin(port, pin); err != nil {
		return err
	}
	rio.lock.Lock()
	defer rio.lock.Unlock()

	if !rio.isReady {
		return ErrNotReady
	}
	delete(rio.inputs, pin)
	rio.outputs[pin] = true
	return nil
}

// ConfigureInput ignores pull, the remote configures its own pins.
func (rio *RemoteIO) ConfigureInput(port, pin uint8, pull Pull) error {
	if err := checkRemotePin(port, pin); err != nil {
		return err
	}
	rio.lock.Lock()
	defer rio.lock.Unlock()

	if !rio.isReady {
		return ErrNotReady
	}
	delete(rio.outputs, pin)
	rio.inputs[pin] = true
	return nil
}

func (rio *RemoteIO) Write(port, pin uint8, level Level) error {
	rio.lock.Lock()
	configured := rio.outputs[pin]
	ready := rio.isReady
	rio.lock.Unlock()

	if !ready {
		return ErrNotReady
	}
	if port != 0 || !configured {
		return errors.Errorf("RemoteIO output %d.%d not configured", port, pin)
	}

	mask := uint32(1) << pin
	levels := uint32(0)
	if level == High {
		levels = mask
	}
	_, err := rio.remoteRequest(context.Background(), http.MethodPut, fmt.Sprintf("signals/out/%d/%d", mask, levels))
	return err
}

func (rio *RemoteIO) Read(port, pin uint8) (Level, error) {
	rio.lock.Lock()
	configured := rio.inputs[pin]
	ready := rio.isReady
	rio.lock.Unlock()

	if !ready {
		return Low, ErrNotReady
	}
	if port != 0 || !configured {
		return Low, errors.Errorf("RemoteIO input %d.%d not configured", port, pin)
	}

	mask := uint32(1) << pin
	signal, err := rio.remoteRequest(context.Background(), http.MethodGet, fmt.Sprintf("signals/in/%d", mask))
	if err != nil {
		return Low, err
	}
	return Level(signal.Signal&mask != 0), nil
}

func (rio *RemoteIO) Close() (err error) {
	rio.lock.Lock()
	defer rio.lock.Unlock()

	rio.isReady = false
	return
}

func (rio *RemoteIO) String() string {
	return remoteioDriverName
}

func (rio *RemoteIO) IsReady() bool {
	rio.lock.Lock()
	defer rio.lock.Unlock()

	return rio.isReady
}

func (rio *RemoteIO) GetAllIo() (inputs []PinAddr, outputs []PinAddr) {
	rio.lock.Lock()
	defer rio.lock.Unlock()

	for pin := range rio.inputs {
		inputs = append(inputs, PinAddr{Pin: pin})
	}
	for pin := range rio.outputs {
		outputs = append(outputs, PinAddr{Pin: pin})
	}
	return
}
