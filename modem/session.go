package modem

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"fieldgate/config"
)

var (
	// ErrNoNetwork reports that the modem could not attach or register
	// on the cellular network. Recoverable: the caller skips to the next
	// scheduled attempt.
	ErrNoNetwork = errors.New("cellular network unavailable")
	// ErrTransaction reports an AT exchange whose expected pattern never
	// arrived within its timeout.
	ErrTransaction = errors.New("modem transaction failed")
)

// registerAttempts bounds the post-attach registration poll.
const registerAttempts = 10

// Session wraps one cellular conversation: attach, registration checks,
// socket transfers, detach. It is owned by the scheduler goroutine and
// never shared.
type Session struct {
	eng  *Engine
	cfg  config.ModemConfig
	logf func(format string, args ...interface{})
}

// NewSession returns a Session speaking through ch.
func NewSession(ch Channel, cfg config.ModemConfig) *Session {
	return &Session{
		eng:  NewEngine(ch),
		cfg:  cfg,
		logf: log.Printf,
	}
}

// SetLogFunc overrides the log destination.
func (s *Session) SetLogFunc(logf func(string, ...interface{})) { s.logf = logf }

// Engine exposes the underlying transaction engine.
func (s *Session) Engine() *Engine { return s.eng }

// Open brings the modem onto the network: sanity check, echo off,
// packet attach, then a registration poll. Returns ErrNoNetwork when
// the modem never reports home or roaming registration.
func (s *Session) Open() error {
	if res, err := s.eng.Send("AT", RespOK, s.cfg.CmdTimeout); err != nil || !res.Matched {
		return fmt.Errorf("modem not responding: %w", errOf(err, ErrNoNetwork))
	}
	s.eng.Send("ATE0", RespOK, s.cfg.CmdTimeout)
	if s.cfg.APN != "" {
		cmd := fmt.Sprintf(`AT+CSTT="%s"`, s.cfg.APN)
		s.eng.Send(cmd, RespOK, s.cfg.CmdTimeout)
	}
	if res, err := s.eng.Send("AT+CGATT=1", RespOK, s.cfg.SendTimeout); err != nil || !res.Matched {
		return fmt.Errorf("packet attach: %w", errOf(err, ErrNoNetwork))
	}
	for i := 0; i < registerAttempts; i++ {
		if s.Registered() {
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("not registered after %d checks: %w", registerAttempts, ErrNoNetwork)
}

// Registered queries +CREG and reports whether the modem is registered
// home (1) or roaming (5). Drain passes stop as soon as this stops
// holding.
func (s *Session) Registered() bool {
	res, err := s.eng.Send("AT+CREG?", "+CREG:", s.cfg.CmdTimeout)
	if err != nil || !res.Matched {
		return false
	}
	// Response shape: +CREG: <n>,<stat>
	text := string(res.Response)
	idx := strings.Index(text, "+CREG:")
	if idx < 0 {
		return false
	}
	fields := strings.Split(text[idx+len("+CREG:"):], ",")
	if len(fields) < 2 {
		return false
	}
	stat := strings.TrimSpace(fields[1])
	if len(stat) > 1 {
		stat = stat[:1]
	}
	return stat == "1" || stat == "5"
}

// SignalDBm reads +CSQ and converts to dBm. Unknown (99) maps to 0.
func (s *Session) SignalDBm() int {
	res, err := s.eng.Send("AT+CSQ", "+CSQ:", s.cfg.CmdTimeout)
	if err != nil || !res.Matched {
		return 0
	}
	text := string(res.Response)
	idx := strings.Index(text, "+CSQ:")
	if idx < 0 {
		return 0
	}
	rest := strings.TrimSpace(text[idx+len("+CSQ:"):])
	end := strings.IndexAny(rest, ",\r\n")
	if end >= 0 {
		rest = rest[:end]
	}
	csq, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || csq == 99 {
		return 0
	}
	return -113 + 2*csq
}

// SendPayload opens a TCP socket to the configured endpoint, pushes body
// terminated by Ctrl-Z, and closes the socket. The connect transaction
// uses prefix matching: "CONNECT OK" streams in with the tail boundary
// ambiguous on some modems.
func (s *Session) SendPayload(body string) error {
	open := fmt.Sprintf(`AT+CIPSTART="TCP","%s",%d`, s.cfg.Host, s.cfg.HostPort)
	if res, err := s.eng.SendMode(open, RespConnect, s.cfg.SendTimeout, MatchPrefix); err != nil || !res.Matched {
		return fmt.Errorf("socket open: %w", errOf(err, ErrTransaction))
	}
	defer s.closeSocket()

	if res, err := s.eng.Send("AT+CIPSEND", RespPrompt, s.cfg.CmdTimeout); err != nil || !res.Matched {
		return fmt.Errorf("send prompt: %w", errOf(err, ErrTransaction))
	}
	if res, err := s.eng.SendRaw([]byte(body+CtrlZ), RespSendOK, s.cfg.SendTimeout); err != nil || !res.Matched {
		return fmt.Errorf("payload send: %w", errOf(err, ErrTransaction))
	}
	return nil
}

// FetchTime opens a socket to one time server and waits for its
// response, which carries a '*'-terminated timestamp. The raw window is
// returned for the caller to parse and validate.
func (s *Session) FetchTime(server string) (string, error) {
	open := fmt.Sprintf(`AT+CIPSTART="TCP","%s",%d`, server, s.cfg.HostPort)
	if res, err := s.eng.SendMode(open, RespConnect, s.cfg.SendTimeout, MatchPrefix); err != nil || !res.Matched {
		return "", fmt.Errorf("time server connect: %w", errOf(err, ErrTransaction))
	}
	defer s.closeSocket()

	res, err := s.eng.Expect("*", s.cfg.SendTimeout)
	if err != nil || !res.Matched {
		return "", fmt.Errorf("time response: %w", errOf(err, ErrTransaction))
	}
	return string(res.Response), nil
}

// Detach drops the packet attach before the gateway goes back to sleep.
func (s *Session) Detach() {
	if res, err := s.eng.Send("AT+CGATT=0", RespOK, s.cfg.CmdTimeout); err != nil || !res.Matched {
		s.logf("modem detach did not confirm")
	}
}

func (s *Session) closeSocket() {
	if res, err := s.eng.Send("AT+CIPCLOSE", RespClose, s.cfg.CmdTimeout); err != nil || !res.Matched {
		// Stale sockets are torn down by the next CIPSTART; log only.
		s.logf("socket close did not confirm")
	}
}

// errOf picks the I/O error when present, the sentinel otherwise.
func errOf(err, sentinel error) error {
	if err != nil {
		return err
	}
	return sentinel
}
