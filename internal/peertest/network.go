// Package peertest provides a remote receiver and a virtual network for
// exercising the sender against real pion peers in tests.
package peertest

import (
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
)

const (
	networkCIDR = "10.0.0.0/24"
	SenderIP    = "10.0.0.1"
	ReceiverIP  = "10.0.0.2"
)

// Network is a started vnet router with one host for each side.
type Network struct {
	Router   *vnet.Router
	Sender   *vnet.Net
	Receiver *vnet.Net
}

// NewNetwork builds the virtual network and stops it when the test ends.
func NewNetwork(t testing.TB) *Network {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          networkCIDR,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	sender, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{SenderIP}})
	if err != nil {
		t.Fatalf("new sender net: %v", err)
	}
	receiver, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ReceiverIP}})
	if err != nil {
		t.Fatalf("new receiver net: %v", err)
	}

	if err := router.AddNet(sender); err != nil {
		t.Fatalf("add sender net: %v", err)
	}
	if err := router.AddNet(receiver); err != nil {
		t.Fatalf("add receiver net: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	return &Network{Router: router, Sender: sender, Receiver: receiver}
}

// NewReceiverAPI returns a pion API bound to n with the default codecs.
func NewReceiverAPI(n *vnet.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}
