// Package mocksshd is a minimal in-process SSH+SFTP server used only by
// tests that need to exercise internal/vfs's RemoteDir against a real
// wire protocol instead of an in-memory fake. Grounded on
// original_source/atomic_hpc/mockssh/mockserver.py (paramiko server +
// SFTPServer subsystem), rebuilt on golang.org/x/crypto/ssh's server side
// plus github.com/pkg/sftp's sftp.NewServer, both already dependencies of
// the production remote backend (internal/vfs/remote.go).
package mocksshd

import (
	"io"
	"net"
	"os/exec"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// User is one accepted login: either Password or AuthorizedKey must be set.
type User struct {
	Password      string
	AuthorizedKey ssh.PublicKey
}

// Server is a loopback SSH server rooted at Dir, serving both exec
// ("session" channel + "exec" request, run through the host shell) and
// SFTP ("session" channel + "sftp" subsystem request) for every accepted
// connection. It exists only to be dialed from tests.
type Server struct {
	Dir   string
	Addr  string // set after Start
	users map[string]User
	key   ssh.Signer

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

// New builds a server with an ephemeral host key and the given user table.
func New(dir string, users map[string]User) (*Server, error) {
	key, err := generateHostKey()
	if err != nil {
		return nil, err
	}
	return &Server{Dir: dir, users: users, key: key}, nil
}

// Start binds a loopback listener and begins accepting connections in the
// background. Call Close to shut it down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	s.listener = ln
	s.Addr = ln.Addr().String()

	config := &ssh.ServerConfig{
		PasswordCallback:  s.checkPassword,
		PublicKeyCallback: s.checkPublicKey,
	}
	config.AddHostKey(s.key)

	s.wg.Add(1)
	go s.acceptLoop(config)
	return nil
}

// Close stops accepting new connections and waits until every open
// connection has ended.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) checkPassword(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	u, ok := s.users[conn.User()]
	if !ok || u.Password == "" || u.Password != string(password) {
		return nil, errAuthFailed
	}
	return nil, nil
}

func (s *Server) checkPublicKey(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	u, ok := s.users[conn.User()]
	if !ok || u.AuthorizedKey == nil || string(u.AuthorizedKey.Marshal()) != string(key.Marshal()) {
		return nil, errAuthFailed
	}
	return nil, nil
}

func (s *Server) acceptLoop(config *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(nc, config)
	}
}

func (s *Server) handleConn(nc net.Conn, config *ssh.ServerConfig) {
	defer s.wg.Done()
	sc, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)
	for ch := range chans {
		if ch.ChannelType() != "session" {
			ch.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go s.handleSession(channel, requests)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Value string }
			ssh.Unmarshal(req.Payload, &payload)
			req.Reply(true, nil)
			s.runExec(channel, payload.Value)
			return
		case "subsystem":
			var payload struct{ Value string }
			ssh.Unmarshal(req.Payload, &payload)
			if payload.Value != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.runSFTP(channel)
			return
		default:
			req.Reply(false, nil)
		}
	}
}

func (s *Server) runExec(channel ssh.Channel, command string) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = s.Dir
	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()
	stdin, _ := cmd.StdinPipe()

	if err := cmd.Start(); err != nil {
		sendExitStatus(channel, 127)
		return
	}
	go func() { io.Copy(stdin, channel); stdin.Close() }()
	var copyWG sync.WaitGroup
	copyWG.Add(2)
	go func() { defer copyWG.Done(); io.Copy(channel, stdout) }()
	go func() { defer copyWG.Done(); io.Copy(channel.Stderr(), stderr) }()
	copyWG.Wait()

	code := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	sendExitStatus(channel, uint32(code))
}

func sendExitStatus(channel ssh.Channel, code uint32) {
	payload := struct{ Status uint32 }{code}
	channel.SendRequest("exit-status", false, ssh.Marshal(&payload))
}

func (s *Server) runSFTP(channel ssh.Channel) {
	server, err := sftp.NewServer(channel, sftp.WithServerWorkingDirectory(s.Dir))
	if err != nil {
		return
	}
	defer server.Close()
	server.Serve()
}

var errAuthFailed = sshAuthError("authentication failed")

type sshAuthError string

func (e sshAuthError) Error() string { return string(e) }
