package adapters

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	mio "github.com/Monetra/go-mio"
)

// selfSignedCert generates a minimal in-memory certificate for loopback
// TLS handshakes, avoiding any dependency on fixture files on disk.
func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() failed: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestTLSHandshakeAndRoundTrip(t *testing.T) {
	cert := selfSignedCert(t)
	clientConn, serverConn := net.Pipe()

	server := NewTLSServer(serverConn, &tls.Config{Certificates: []tls.Certificate{cert}})
	client := NewTLSClient(clientConn, &tls.Config{InsecureSkipVerify: true})

	loop, err := mio.NewLoop()
	if err != nil {
		t.Fatalf("NewLoop() failed: %v", err)
	}
	defer loop.Close()

	serverConnected := make(chan struct{}, 1)
	serverObj := mio.NewObject(server)
	serverObj.OnEvent(func(ev mio.ObjectEvent) {
		if ev.Kind == mio.EventConnected {
			select {
			case serverConnected <- struct{}{}:
			default:
			}
		}
	})
	if err := loop.Add(serverObj); err != nil {
		t.Fatalf("Add(serverObj) failed: %v", err)
	}

	received := make(chan []byte, 1)
	clientObj := mio.NewObject(client)
	clientObj.OnEvent(func(ev mio.ObjectEvent) {
		if ev.Kind != mio.EventConnected {
			return
		}
		select {
		case received <- []byte("handshake-ok"):
		default:
		}
	})
	if err := loop.Add(clientObj); err != nil {
		t.Fatalf("Add(clientObj) failed: %v", err)
	}

	go func() {
		select {
		case <-serverConnected:
		case <-time.After(3 * time.Second):
		}
		select {
		case <-received:
		case <-time.After(3 * time.Second):
		}
		loop.Done()
	}()

	if _, err := loop.Run(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if server.LayerState() != mio.StateConnected {
		t.Errorf("server LayerState() = %v, want StateConnected", server.LayerState())
	}
	if client.LayerState() != mio.StateConnected {
		t.Errorf("client LayerState() = %v, want StateConnected", client.LayerState())
	}

	// Exercise the record layer itself, not just the handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		n, werr := client.Write([]byte("secret"))
		if werr != mio.Success || n != len("secret") {
			t.Errorf("client.Write() = (%d, %v)", n, werr)
		}
	}()
	buf := make([]byte, 32)
	n, rerr := server.Read(buf)
	<-done
	if rerr != mio.Success {
		t.Fatalf("server.Read() err = %v", rerr)
	}
	if string(buf[:n]) != "secret" {
		t.Errorf("server.Read() = %q, want %q", buf[:n], "secret")
	}
}
