package actuator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/frameguard/internal/core"
)

const recorderSnapLen = 65535

// Recorder writes frames to one pcap file per verdict in a directory, named
// after the verdict (redirect.pcap, drop.pcap). Files are created on first
// use. Pass frames are recorded only when asked for.
type Recorder struct {
	dir      string
	verdicts [len(core.Verdicts)]bool

	mu      sync.Mutex
	files   [len(core.Verdicts)]*os.File
	writers [len(core.Verdicts)]*pcapgo.Writer
}

// NewRecorder records frames with the given verdicts into dir, which is
// created if missing. With no verdicts, Redirect and Drop are recorded.
func NewRecorder(dir string, verdicts ...core.Verdict) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}
	if len(verdicts) == 0 {
		verdicts = []core.Verdict{core.Redirect, core.Drop}
	}
	r := &Recorder{dir: dir}
	for _, v := range verdicts {
		if !v.Valid() {
			return nil, fmt.Errorf("cannot record verdict %s", v)
		}
		r.verdicts[v] = true
	}
	return r, nil
}

// Path returns the file frames with verdict v are written to.
func (r *Recorder) Path(v core.Verdict) string {
	return filepath.Join(r.dir, v.String()+".pcap")
}

func (r *Recorder) Apply(v core.Verdict, pkt core.RawPacket) error {
	if !v.Valid() || !r.verdicts[v] {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.writer(v)
	if err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:      pkt.Timestamp,
		CaptureLength:  len(pkt.Data),
		Length:         max(int(pkt.OrigLen), len(pkt.Data)),
		InterfaceIndex: pkt.InterfaceIndex,
	}
	if err := w.WritePacket(ci, pkt.Data); err != nil {
		return fmt.Errorf("write %s: %w", r.Path(v), err)
	}
	return nil
}

func (r *Recorder) writer(v core.Verdict) (*pcapgo.Writer, error) {
	if w := r.writers[v]; w != nil {
		return w, nil
	}
	file, err := os.Create(r.Path(v))
	if err != nil {
		return nil, fmt.Errorf("create pcap: %w", err)
	}
	w := pcapgo.NewWriter(file)
	if err := w.WriteFileHeader(recorderSnapLen, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	r.files[v], r.writers[v] = file, w
	return w, nil
}

// Close closes every file opened so far.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i, f := range r.files {
		if f == nil {
			continue
		}
		errs = append(errs, f.Close())
		r.files[i], r.writers[i] = nil, nil
	}
	return errors.Join(errs...)
}
