// nbsftp reads a remote file over SFTP, driving a non-blocking session by hand.
//
//	nbsftp --user alice --password secret example.com /tmp/TEST
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/jpillora/jplog"
	"github.com/jpillora/opts"
	"github.com/mitchellh/go-homedir"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pkg/nbsftp"
)

var version = "0.0.0-src" //set via ldflags

// chunkSize is how much is asked for per Read.
const chunkSize = 1024

type config struct {
	Host   string `opts:"mode=arg,help=ssh server address as host or host:port"`
	Remote string `opts:"mode=arg,help=remote file to read (defaults to /tmp/TEST)"`

	Config   string        `opts:"help=yaml file with defaults for these options"`
	User     string        `opts:"help=ssh username (defaults to $USER)"`
	Password string        `opts:"help=ssh password (prompted for when no key or agent works)"`
	Key      string        `opts:"help=private key file (~ is expanded)"`
	Output   string        `opts:"short=o,help=write the file here instead of stderr"`
	Timeout  time.Duration `opts:"help=connection timeout"`
	Verbose  bool          `opts:"short=v,help=verbose logs"`
	List     bool          `opts:"short=l,help=list the remote directory in ls -l style instead of reading a file"`
}

// fileConfig is the layout of the --config file.
type fileConfig struct {
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Key      string        `yaml:"key"`
	Output   string        `yaml:"output"`
	Timeout  time.Duration `yaml:"timeout"`
	Verbose  bool          `yaml:"verbose"`
}

type app struct {
	*config
	log *slog.Logger
}

func main() {
	c := config{
		Remote:  "/tmp/TEST",
		User:    os.Getenv("USER"),
		Timeout: 30 * time.Second,
	}

	opts.New(&c).
		Name("nbsftp").
		Version(version).
		Parse().
		RunFatal()
}

func (c *config) Run() error {
	if err := c.loadFile(); err != nil {
		return err
	}

	h := jplog.Handler(os.Stderr)
	if c.Verbose {
		h = h.Verbose()
	}

	a := &app{
		config: c,
		log:    slog.New(h),
	}

	conn, err := a.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := nbsftp.NewSSHChannel(conn)
	if err != nil {
		return err
	}

	if c.List {
		return a.list(ch)
	}

	s, err := nbsftp.NewSession(ch, nbsftp.WithLogger(a.log))
	if err != nil {
		ch.Close()
		return err
	}
	defer s.Shutdown()

	var out io.Writer = os.Stderr
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return err
		}
		defer f.Close()

		out = f
	}

	return a.copyRemote(s, ch, out)
}

// loadFile fills options not given on the command line from the yaml config file.
func (c *config) loadFile() error {
	if c.Config == "" {
		return nil
	}

	name, err := homedir.Expand(c.Config)
	if err != nil {
		return err
	}

	b, err := os.ReadFile(name)
	if err != nil {
		return err
	}

	var file fileConfig
	if err := yaml.Unmarshal(b, &file); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if c.User == "" || c.User == os.Getenv("USER") {
		c.User = cmp.Or(file.User, c.User)
	}
	c.Password = cmp.Or(c.Password, file.Password)
	c.Key = cmp.Or(c.Key, file.Key)
	c.Output = cmp.Or(c.Output, file.Output)
	if file.Timeout > 0 {
		c.Timeout = file.Timeout
	}
	c.Verbose = c.Verbose || file.Verbose

	return nil
}

func (a *app) dial() (*ssh.Client, error) {
	addr := a.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(22))
	}

	auths, err := a.authMethods()
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User: a.User,
		Auth: auths,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			fmt.Fprintf(os.Stderr, "Fingerprint: %s\n", ssh.FingerprintLegacyMD5(key))
			return nil
		},
		Timeout: a.Timeout,
	}

	a.log.Debug("connecting", "addr", addr, "user", a.User)

	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to [%s]: %w", addr, err)
	}

	return conn, nil
}

func (a *app) authMethods() ([]ssh.AuthMethod, error) {
	var auths []ssh.AuthMethod

	if a.Key != "" {
		name, err := homedir.Expand(a.Key)
		if err != nil {
			return nil, err
		}

		pem, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}

		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		auths = append(auths, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if aconn, err := net.Dial("unix", sock); err != nil {
			a.log.Warn("unable to connect to auth agent", "err", err)
		} else {
			auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(aconn).Signers))
		}
	}

	if a.Password != "" {
		auths = append(auths, ssh.Password(a.Password))
	} else if term.IsTerminal(int(os.Stdin.Fd())) {
		auths = append(auths, ssh.PasswordCallback(func() (string, error) {
			fmt.Fprintf(os.Stderr, "%s@%s's password: ", a.User, a.Host)
			pass, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			return string(pass), err
		}))
	}

	if len(auths) == 0 {
		return nil, errors.New("no authentication method: set --password or --key, or run an ssh-agent")
	}

	return auths, nil
}

// list prints the remote directory through the blocking client.
func (a *app) list(ch nbsftp.Channel) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()

	cl, err := nbsftp.NewClient(ctx, ch, nbsftp.WithLogger(a.log))
	if err != nil {
		ch.Close()
		return err
	}
	defer cl.Close()

	fis, err := cl.ReadDir(a.Remote)

	now := time.Now()
	for _, fi := range fis {
		fmt.Println(nbsftp.FormatLongname(fi, now))
	}

	return err
}

// pump runs one Session.Pump, and waits for the channel when nothing moved.
func (a *app) pump(ctx context.Context, s *nbsftp.Session, ch nbsftp.Poller) error {
	res, err := s.Pump()
	if err != nil {
		return err
	}

	if res.Unmatched > 0 {
		a.log.Warn("unmatched responses", "count", res.Unmatched)
	}

	if res.BytesRead > 0 || res.BytesWritten > 0 {
		return nil
	}

	return ch.WaitReady(ctx, res.WantWrite)
}

func (a *app) copyRemote(s *nbsftp.Session, ch nbsftp.Poller, out io.Writer) error {
	ctx := context.Background()

	f, err := s.Open(a.Remote, nbsftp.OpenFlagReadOnly, 0)
	if err != nil {
		return err
	}

	for err = f.Ready(); errors.Is(err, nbsftp.ErrWouldBlock); err = f.Ready() {
		if err := a.pump(ctx, s, ch); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}

	size := int64(-1)

	st := f.Stat()
	for _, err = st.Result(); errors.Is(err, nbsftp.ErrWouldBlock); _, err = st.Result() {
		if err := a.pump(ctx, s, ch); err != nil {
			return err
		}
	}
	if fi, err := st.Result(); err == nil {
		size = fi.Size()
	} else {
		a.log.Debug("size unknown", "err", err)
	}

	if a.Output != "" {
		bar := progressbar.NewOptions64(
			size,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Reading "+a.Remote),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetRenderBlankState(true),
		)
		defer bar.Close()

		out = io.MultiWriter(out, bar)
	}

	var total int64
	buf := make([]byte, chunkSize)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
			total += int64(n)
		}

		switch {
		case err == nil:
		case errors.Is(err, nbsftp.ErrWouldBlock):
			if err := a.pump(ctx, s, ch); err != nil {
				return err
			}
		case err == io.EOF:
			a.log.Info("done", "file", a.Remote, "bytes", total)
			return a.closeFile(ctx, s, ch, f)
		default:
			a.closeFile(ctx, s, ch, f)
			return err
		}
	}
}

func (a *app) closeFile(ctx context.Context, s *nbsftp.Session, ch nbsftp.Poller, f *nbsftp.File) error {
	for {
		err := f.Close()
		if !errors.Is(err, nbsftp.ErrWouldBlock) {
			return err
		}

		if err := a.pump(ctx, s, ch); err != nil {
			return err
		}
	}
}
