// SPDX-License-Identifier: Apache-2.0

package wallet

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	ed "github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

// ErrNoSession is returned when no valid session is stored.
var ErrNoSession = errors.New("no user session")

// SessionData is the sign-in state of a session-based backend.
type SessionData struct {
	Address  string    `json:"address"`
	AppName  string    `json:"appName,omitempty"`
	SignedIn time.Time `json:"signedIn"`
}

// SessionStore keeps the local sign-in of a session-based backend. The
// session data is signed with a key derived from the store's random seed, so
// a modified or truncated session file is treated as signed out. Queries
// never touch the network.
type SessionStore struct {
	mutex sync.Mutex
	file  string

	seed [24]byte     // the store's random seed.
	key  Account      // app key derived from seed.
	data *SessionData // nil if signed out.
	sig  []byte       // signature of the encoded data.
}

var bo = binary.LittleEndian

// NewRAMSessionStore creates an unpersisted SessionStore.
func NewRAMSessionStore(gen io.Reader) (*SessionStore, error) {
	s := SessionStore{}
	if _, err := io.ReadFull(gen, s.seed[:]); err != nil {
		return nil, fmt.Errorf("error reading random seed: %v", err)
	}
	s.key = s.genKey()
	return &s, nil
}

// CreateOrLoadSessionStore loads the store from the requested path, otherwise,
// it creates a new one and saves it to the requested path.
func CreateOrLoadSessionStore(path string, gen io.Reader) (*SessionStore, error) {
	s := SessionStore{file: path}

	if file, err := os.ReadFile(path); err == nil {
		if err := s.load(bytes.NewReader(file)); err != nil {
			return nil, err
		}
	} else {
		if _, err := io.ReadFull(gen, s.seed[:]); err != nil {
			return nil, err
		}
		s.key = s.genKey()
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// appKeyNonce selects the app key among the keys derivable from the seed.
const appKeyNonce uint64 = 0

func (s *SessionStore) genKey() Account {
	seed := new(bytes.Buffer)
	seed.Write(s.seed[:])
	if err := binary.Write(seed, bo, appKeyNonce); err != nil {
		panic(fmt.Sprintf("error writing nonce to seed buffer: %v", err))
	}

	_, sk, err := ed.GenerateKey(seed)
	if err != nil {
		panic("logic error: generating key should not have failed")
	}
	return Account(sk)
}

func (s *SessionStore) load(r io.Reader) error {
	if _, err := io.ReadFull(r, s.seed[:]); err != nil {
		return err
	}
	s.key = s.genKey()

	var present uint8
	if err := binary.Read(r, bo, &present); err != nil {
		return err
	}
	if present == 0 {
		return nil
	}

	raw, err := readChunk(r)
	if err != nil {
		return fmt.Errorf("reading session data: %v", err)
	}
	sig, err := readChunk(r)
	if err != nil {
		return fmt.Errorf("reading session signature: %v", err)
	}

	ok, err := Backend{}.VerifySignature(raw, sig, s.key.Address())
	if err != nil || !ok {
		// Not signed by this store: behave as signed out.
		return nil
	}
	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	s.data, s.sig = &data, sig
	return nil
}

func (s *SessionStore) save() error {
	if s.file == "" {
		return nil
	}

	file := new(bytes.Buffer)
	file.Write(s.seed[:])

	if s.data == nil {
		file.WriteByte(0)
		return os.WriteFile(s.file, file.Bytes(), 0600)
	}
	file.WriteByte(1)

	raw, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("error encoding session data: %v", err)
	}
	if err := writeChunk(file, raw); err != nil {
		return fmt.Errorf("error writing session data: %v", err)
	}
	if err := writeChunk(file, s.sig); err != nil {
		return fmt.Errorf("error writing session signature: %v", err)
	}
	return os.WriteFile(s.file, file.Bytes(), 0600)
}

const maxChunk = 1 << 16

func readChunk(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, bo, &n); err != nil {
		return nil, err
	}
	if n > maxChunk {
		return nil, fmt.Errorf("chunk of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return buf, err
}

func writeChunk(w io.Writer, data []byte) error {
	if err := binary.Write(w, bo, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// AppAddress returns the address of the store's app key.
func (s *SessionStore) AppAddress() Address {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.key.PublicKey()
}

// IsUserSignedIn reports whether a valid session is stored.
func (s *SessionStore) IsUserSignedIn() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.data != nil
}

// LoadUserData returns the stored session.
func (s *SessionStore) LoadUserData() (SessionData, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.data == nil {
		return SessionData{}, ErrNoSession
	}
	return *s.data, nil
}

// SignIn signs and stores data, replacing any previous session.
func (s *SessionStore) SignIn(data SessionData) error {
	if data.Address == "" {
		return errors.New("session without address")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	sig, err := s.key.SignData(raw)
	if err != nil {
		return fmt.Errorf("signing session: %v", err)
	}
	prevData, prevSig := s.data, s.sig
	s.data, s.sig = &data, sig
	if err := s.save(); err != nil {
		s.data, s.sig = prevData, prevSig
		return err
	}
	return nil
}

// SignUserOut removes the stored session. It is idempotent.
func (s *SessionStore) SignUserOut() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data, s.sig = nil, nil
	return s.save()
}

// Close wipes the app key from memory. The store must not be used
// afterwards.
func (s *SessionStore) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.key.clear()
}
