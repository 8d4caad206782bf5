package relay

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

func TestListenerSpec_Validate(t *testing.T) {
	tests := []struct {
		name        string
		spec        ListenerSpec
		expectedErr error
		expected    ListenerSpec
	}{
		{
			name:        "missing local port",
			spec:        ListenerSpec{LocalHost: "127.0.0.1", ServiceHost: "10.0.0.1", ServicePort: 80},
			expectedErr: ErrNoLocalPort,
		},
		{
			name:        "local port out of range",
			spec:        ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 70000},
			expectedErr: ErrInvalidPort,
		},
		{
			name:        "local service without port",
			spec:        ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 80, ServiceHost: "127.0.0.1"},
			expectedErr: ErrNoServicePort,
		},
		{
			name:        "service equals local",
			spec:        ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 80, ServicePort: 80},
			expectedErr: ErrServiceIsLocal,
		},
		{
			name:     "dynamic",
			spec:     ListenerSpec{LocalHost: "0.0.0.0", LocalPort: 3000},
			expected: ListenerSpec{LocalHost: "0.0.0.0", LocalPort: 3000},
		},
		{
			name:     "service host defaults to local host",
			spec:     ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 80, ServicePort: 3000},
			expected: ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 80, ServiceHost: "127.0.0.1", ServicePort: 3000},
		},
		{
			name:     "remote service reuses local port",
			spec:     ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 80, ServiceHost: "10.0.0.9"},
			expected: ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 80, ServiceHost: "10.0.0.9", ServicePort: 80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.spec.Validate()
			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Errorf("Expected error %v, got: %v", tt.expectedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected %+v, got: %+v", tt.expected, result)
			}
		})
	}
}

func TestListenerSpec_IsDynamic(t *testing.T) {
	if !(ListenerSpec{LocalPort: 3000}).IsDynamic() {
		t.Error("Expected spec without service to be dynamic")
	}
	if (ListenerSpec{LocalPort: 3000, ServicePort: 80}).IsDynamic() {
		t.Error("Expected spec with service port to be static")
	}
	if (ListenerSpec{LocalPort: 3000, ServiceHost: "10.0.0.1"}).IsDynamic() {
		t.Error("Expected spec with service host to be static")
	}
}

func TestListenerSpec_Addrs(t *testing.T) {
	spec := ListenerSpec{LocalHost: "::1", LocalPort: 80, ServiceHost: "10.0.0.1", ServicePort: 8080}

	if spec.LocalAddr() != "[::1]:80" {
		t.Errorf("Expected [::1]:80, got: %s", spec.LocalAddr())
	}
	if spec.ServiceAddr() != "10.0.0.1:8080" {
		t.Errorf("Expected 10.0.0.1:8080, got: %s", spec.ServiceAddr())
	}
	if (ListenerSpec{LocalPort: 80}).ServiceAddr() != "" {
		t.Error("Expected empty service address for dynamic spec")
	}
}

func TestIsAddrInUse(t *testing.T) {
	wrapped := &net.OpError{Op: "listen", Net: "tcp", Err: os.NewSyscallError("bind", unix.EADDRINUSE)}
	if !IsAddrInUse(wrapped) {
		t.Error("Expected wrapped EADDRINUSE to be detected")
	}

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	if IsAddrInUse(refused) {
		t.Error("Expected ECONNREFUSED not to be address in use")
	}

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer func() { _ = taken.Close() }()

	_, err = net.Listen("tcp", taken.Addr().String())
	if !IsAddrInUse(err) {
		t.Errorf("Expected real bind conflict to be address in use, got: %v", err)
	}
}
