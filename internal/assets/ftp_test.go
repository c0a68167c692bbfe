package assets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// miniFTPServer supports just enough of the FTP protocol for FTPResolver.
type miniFTPServer struct {
	listener net.Listener
	files    map[string]string // path -> content
	wg       sync.WaitGroup
}

func newMiniFTPServer(t *testing.T, files map[string]string) *miniFTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &miniFTPServer{listener: ln, files: files}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *miniFTPServer) url(path string) string {
	return "ftp://" + s.listener.Addr().String() + path
}

func (s *miniFTPServer) close() {
	s.listener.Close() //nolint:errcheck
	s.wg.Wait()
}

func (s *miniFTPServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *miniFTPServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck

	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(w, format+"\r\n", args...) //nolint:errcheck
		w.Flush()                              //nolint:errcheck
	}

	reply("220 Mini FTP Server ready")

	var data net.Listener
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
		arg := ""
		if len(parts) > 1 {
			arg = parts[1]
		}

		switch strings.ToUpper(parts[0]) {
		case "USER", "PASS":
			reply("230 User logged in")
		case "FEAT":
			fmt.Fprintf(w, "211-Features:\r\n UTF8\r\n") //nolint:errcheck
			reply("211 End")
		case "TYPE":
			reply("200 Type set to %s", arg)
		case "OPTS":
			reply("200 OK")
		case "EPSV":
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 Can't open data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "PASV":
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 Can't open data connection")
				continue
			}
			port := data.Addr().(*net.TCPAddr).Port
			reply("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
		case "RETR":
			if data == nil {
				reply("425 Use PASV first")
				continue
			}
			content, ok := s.files[arg]
			if !ok {
				reply("550 File not found")
				data.Close() //nolint:errcheck
				data = nil
				continue
			}
			reply("150 Opening data connection")
			dc, err := data.Accept()
			if err != nil {
				reply("425 Can't open data connection")
				continue
			}
			io.WriteString(dc, content) //nolint:errcheck
			dc.Close()                  //nolint:errcheck
			data.Close()                //nolint:errcheck
			data = nil
			reply("226 Transfer complete")
		case "QUIT":
			reply("221 Goodbye")
			return
		default:
			reply("502 Command not implemented")
		}
	}
}

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantHost string
		wantPath string
		wantUser string
		wantErr  bool
	}{
		{"default port", "ftp://drop.example.com/P1/a.jpg", "drop.example.com:21", "/P1/a.jpg", "anonymous", false},
		{"explicit port and user", "ftp://inspector:pw@drop.example.com:2121/a.jpg", "drop.example.com:2121", "/a.jpg", "inspector", false},
		{"wrong scheme", "http://drop.example.com/a.jpg", "", "", "", true},
		{"empty path", "ftp://drop.example.com", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, path, user, _, err := parseFTPURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
			assert.Equal(t, tt.wantUser, user)
		})
	}
}

func TestNewFTPResolver_DefaultTimeout(t *testing.T) {
	r := NewFTPResolver(FTPOptions{})
	assert.Equal(t, 30*time.Second, r.opts.Timeout)
}

func TestFTPResolver_Open(t *testing.T) {
	srv := newMiniFTPServer(t, map[string]string{
		"/P1/crack.png": string(pngBytes),
		"/P1/notes.txt": "plain text",
	})
	r := NewFTPResolver(FTPOptions{Timeout: 5 * time.Second})

	a, err := r.Open(context.Background(), srv.url("/P1/crack.png"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", a.MediaType)
	assert.Equal(t, "crack.png", a.Filename)

	_, err = r.Open(context.Background(), srv.url("/P1/gone.png"))
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = r.Open(context.Background(), srv.url("/P1/notes.txt"))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFTPResolver_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() //nolint:errcheck

	_, err = NewFTPResolver(FTPOptions{Timeout: time.Second}).Open(context.Background(), "ftp://"+addr+"/a.png")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "ftp dial")
}
