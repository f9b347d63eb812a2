// Command zonecored is the authoritative zone-management daemon: it wires
// together the registry, per-zone state machines, and the admin API.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/pflag"

	"github.com/korsgren/zonecore/codec"
	cfgpkg "github.com/korsgren/zonecore/config"
	"github.com/korsgren/zonecore/keydb"
	"github.com/korsgren/zonecore/logging"
	"github.com/korsgren/zonecore/signer"
	"github.com/korsgren/zonecore/update"
	"github.com/korsgren/zonecore/zone"
	"github.com/korsgren/zonecore/zonefile"
)

var appVersion = "dev"

const defaultCfgFile = "/etc/zonecore/zonecored.yaml"

func main() {
	cfgFile := pflag.String("config", defaultCfgFile, "path to zonecored configuration file")
	pflag.Parse()

	cfg, err := cfgpkg.Load(*cfgFile)
	if err != nil {
		log.Fatalf("zonecored: loading config: %v", err)
	}
	logging.SetupDaemon(cfg.Log.File)
	fmt.Printf("zonecored %s starting, config %s\n", appVersion, *cfgFile)

	kdb, err := keydb.Open(cfg.DB.File)
	if err != nil {
		log.Fatalf("zonecored: opening key database: %v", err)
	}
	defer kdb.Close()

	registry := zone.NewRegistry()
	wheel := zone.NewTimeWheel()
	xfer := &stubTransferSubsystem{} // transfer subsystem networking is not implemented here
	circlSigner := signer.NewCirclSigner()
	maxConnIdle := time.Duration(cfg.Service.MaxConnIdleMs) * time.Millisecond
	sm := zone.NewStateMachine(registry, wheel, xfer, circlSigner, maxConnIdle)

	zoneConfs, err := cfgpkg.LoadZones(cfg.ZonesFile)
	if err != nil {
		log.Fatalf("zonecored: loading zones file: %v", err)
	}

	zonefilePaths := make(map[string]string, len(zoneConfs))

	for name, zc := range zoneConfs {
		handleCfg, err := zc.ToHandleConfig()
		if err != nil {
			log.Fatalf("zonecored: zone %q: %v", name, err)
		}

		if handleCfg.DNSSECEnabled {
			if err := loadSigningKey(kdb, circlSigner, name); err != nil {
				log.Printf("DNSSEC: Zone %q - %v; signing disabled for this zone", name, err)
				handleCfg.DNSSECEnabled = false
			}
		}

		journalPath := filepath.Join(cfg.JournalDir, name+".journal")
		j, err := zone.Open(journalPath)
		if err != nil {
			log.Fatalf("zonecored: zone %q: opening journal: %v", name, err)
		}

		h := zone.NewHandle(name, handleCfg, j)
		registry.Register(h)
		zonefilePaths[name] = zc.Zonefile

		if err := zone.LoadChangesets(h, codec.DNSCodec{}); err != nil && !zone.Is(err, zone.JournalRange) {
			log.Printf("zonecored: zone %q: journal replay: %v", name, err)
		}

		sm.ArmRefresh(h, zone.JitterPct*time.Second)
		sm.ArmFlush(h, func(hh *zone.Handle) error {
			err := zone.Flush(hh, filepath.Dir(zc.Zonefile), filepath.Base(zc.Zonefile), zonefile.TextWriter{})
			if zone.Is(err, zone.UpToDate) {
				return nil
			}
			return err
		})
		if handleCfg.DNSSECEnabled {
			sm.ArmResign(h, func(hh *zone.Handle) (time.Time, error) {
				return zone.Resign(hh, circlSigner, codec.DNSCodec{})
			})
		}
	}

	srv := newAdminServer(cfg.API.Addr, registry, sm, circlSigner, update.DefaultProcessor{}, zonefilePaths, kdb)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("zonecored: admin API server stopped: %v", err)
		}
	}()

	mainloop(srv)
}

// stubTransferSubsystem logs enqueue requests rather than performing real
// network transfers; the worker pool and wire protocol handling for actual
// zone transfers live outside this daemon.
type stubTransferSubsystem struct{}

func (stubTransferSubsystem) Enqueue(task zone.Task) error {
	log.Printf("transfer subsystem: enqueue %s for zone %q (stub, not implemented)", task.Type, task.Zone.Name)
	return nil
}

func mainloop(srv *http.Server) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		for {
			select {
			case <-exit:
				log.Println("zonecored: exit signal received, shutting down")
				srv.Close()
				wg.Done()
				return
			case <-hup:
				log.Println("zonecored: SIGHUP received (zone reload not yet wired to this signal)")
			}
		}
	}()
	wg.Wait()
}

// loadSigningKey resolves a zone's active DNSSEC key from the key
// database and installs it into the signer. Called once per
// dnssec-enabled zone at startup; a zone without a loadable active key
// has signing disabled rather than left to fail on every update.
func loadSigningKey(kdb *keydb.DB, sgn *signer.CirclSigner, name string) error {
	key, err := kdb.ActiveDnssecKey(name)
	if err != nil {
		return err
	}
	kp, err := signer.KeyPairFromStore(key.PrivateKey, key.KeyRR)
	if err != nil {
		return err
	}
	sgn.AddZoneKey(name, kp)
	return nil
}

// verifyUpdateTSIG enforces the TSIG requirement on an inbound update
// packet when the zone's configuration names a key: the key material is
// resolved from the key database and the packet's signature checked
// before the pipeline ever sees it. Zones with no tsig_key configured
// accept unsigned packets (the operator-driven zonectl test path).
func verifyUpdateTSIG(h *zone.Handle, packet []byte, kdb *keydb.DB) error {
	keyName := h.Config.TSIGKeyName
	if keyName == "" {
		return nil
	}
	key, err := kdb.LookupTSIGKey(keyName)
	if err != nil {
		return err
	}
	var verifier zone.TSIGVerifier = signer.NewDNSVerifier(map[string]string{key.Name: key.Secret})
	result, timeSigned, err := verifier.Verify(packet, key.Name)
	switch result {
	case zone.TSIGOk:
		return nil
	case zone.TSIGBadtime:
		return fmt.Errorf("TSIG BADTIME (signed at %s): %v", timeSigned, err)
	default:
		return fmt.Errorf("TSIG %s: %v", result, err)
	}
}

// newAdminServer builds the operator HTTP API. zonefilePaths maps each
// zone name to its configured on-disk zonefile path, so flush requests
// write to the same file ArmFlush's recurring timer does rather than a
// path derived from the zone's DNS owner name.
func newAdminServer(addr string, registry *zone.Registry, sm *zone.StateMachine, sgn *signer.CirclSigner, proc zone.UpdateProcessor, zonefilePaths map[string]string, kdb *keydb.DB) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/zones", func(w http.ResponseWriter, req *http.Request) {
		for _, name := range registry.Names() {
			fmt.Fprintln(w, name)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/zones/{name}/status", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		h, ok := registry.Lookup(name)
		if !ok {
			http.NotFound(w, req)
			return
		}
		dirty, err := h.DirtyJournalCount()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "zone: %s\nstate: %s\nfrozen: %v\nserial: %d\nzonefile-serial: %d\ndirty-journal-entries: %d\nlast-refresh: %s\nlast-resign: %s\n",
			h.Name, h.GetState(), h.Frozen(), h.Content().Serial(), h.ZonefileSerial, dirty, h.LastRefresh, h.LastResign)
	}).Methods(http.MethodGet)

	r.HandleFunc("/zones/{name}/flush", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		h, ok := registry.Lookup(name)
		if !ok {
			http.NotFound(w, req)
			return
		}
		path, ok := zonefilePaths[name]
		if !ok {
			http.Error(w, fmt.Sprintf("no zonefile path configured for zone %q", name), http.StatusInternalServerError)
			return
		}
		err := zone.Flush(h, filepath.Dir(path), filepath.Base(path), zonefile.TextWriter{})
		if err != nil && !zone.Is(err, zone.UpToDate) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodPost)

	r.HandleFunc("/zones/{name}/refresh", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		h, ok := registry.Lookup(name)
		if !ok {
			http.NotFound(w, req)
			return
		}
		sm.ForceRefresh(h)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodPost)

	r.HandleFunc("/zones/{name}/freeze", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		h, ok := registry.Lookup(name)
		if !ok {
			http.NotFound(w, req)
			return
		}
		h.Freeze()
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodPost)

	r.HandleFunc("/zones/{name}/thaw", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		h, ok := registry.Lookup(name)
		if !ok {
			http.NotFound(w, req)
			return
		}
		h.Thaw()
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodPost)

	r.HandleFunc("/zones/{name}/bump", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		h, ok := registry.Lookup(name)
		if !ok {
			http.NotFound(w, req)
			return
		}
		newSerial, err := zone.BumpSerial(h, codec.DNSCodec{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sm.NotifyDownstreams(h, h.Config.Downstreams)
		fmt.Fprintf(w, "new-serial: %d\n", newSerial)
	}).Methods(http.MethodPost)

	r.HandleFunc("/zones/{name}/journal", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		h, ok := registry.Lookup(name)
		if !ok {
			http.NotFound(w, req)
			return
		}
		entries, err := h.Journal.Dump()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, e := range entries {
			fmt.Fprintf(w, "%d -> %d  %s  %dB\n", e.From, e.To, e.Flags, e.Size)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/zones/{name}/update", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		h, ok := registry.Lookup(name)
		if !ok {
			http.NotFound(w, req)
			return
		}
		packet, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := verifyUpdateTSIG(h, packet, kdb); err != nil {
			log.Printf("UPDATE of %q from %s: %v", name, req.RemoteAddr, err)
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		path, ok := zonefilePaths[name]
		if !ok {
			http.Error(w, fmt.Sprintf("no zonefile path configured for zone %q", name), http.StatusInternalServerError)
			return
		}
		result, err := zone.RunUpdatePipeline(h, packet, proc, sgn, codec.DNSCodec{}, func(hh *zone.Handle) error {
			err := zone.FlushLocked(hh, filepath.Dir(path), filepath.Base(path), zonefile.TextWriter{})
			if zone.Is(err, zone.UpToDate) {
				return nil
			}
			return err
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !result.NoChange {
			sm.NotifyDownstreams(h, h.Config.Downstreams)
		}
		fmt.Fprintf(w, "rcode: %d\nnew-serial: %d\nno-change: %v\n", result.RCode, result.NewSerial, result.NoChange)
	}).Methods(http.MethodPost)

	return &http.Server{Addr: addr, Handler: r}
}
