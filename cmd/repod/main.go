// Command repod runs the repository storage server.
//
// Configuration comes from an optional TOML file plus command line
// flags; flags win. With no database dial string an embedded SQLite
// database is kept inside the storage directory.
package main

import (
	"flag"
	"log"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	raven "github.com/getsentry/raven-go"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/filestore"
	"github.com/ndlib/repod/gc"
	"github.com/ndlib/repod/idcache"
	"github.com/ndlib/repod/server"
)

type config struct {
	Port       string
	PProfPort  string
	StoreDir   string
	MySQL      string
	BaseURL    string
	Source     string
	Username   string
	Checksum   string
	GCAge      duration
	GCInterval duration
	SentryDSN  string
}

// duration lets TOML files say "12h" instead of nanosecond counts.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func main() {
	var (
		configFile = flag.String("config", "", "location of the configuration file")
		port       = flag.String("port", "", "port to listen on")
		storeDir   = flag.String("storedir", "", "location of the storage directory")
		mysql      = flag.String("mysql", "", "MySQL dial string, e.g. user:pass@tcp(host:3306)/repod")
	)
	flag.Parse()

	conf := config{
		Port:       "14000",
		StoreDir:   ".",
		Source:     "repod",
		Username:   "repod",
		GCAge:      duration{12 * time.Hour},
		GCInterval: duration{time.Hour},
	}
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &conf); err != nil {
			log.Fatalf("reading %s: %s", *configFile, err)
		}
	}
	if *port != "" {
		conf.Port = *port
	}
	if *storeDir != "" {
		conf.StoreDir = *storeDir
	}
	if *mysql != "" {
		conf.MySQL = *mysql
	}
	if conf.SentryDSN != "" {
		raven.SetDSN(conf.SentryDSN)
	}

	driver, dial := "mysql", conf.MySQL
	if dial == "" {
		driver = "sqlite3"
		dial = filepath.Join(conf.StoreDir, "repod.db")
	}
	log.Printf("Using %s database", driver)
	d, err := db.Open(driver, dial)
	if err != nil {
		log.Fatalf("opening database: %s", err)
	}
	defer d.Close()

	log.Printf("Using storage dir %s", conf.StoreDir)
	fs, err := filestore.New(conf.StoreDir, d)
	if err != nil {
		log.Fatalf("opening content store: %s", err)
	}
	if conf.Checksum != "" {
		fs.DefaultChecksum = conf.Checksum
	}

	identity, err := installBaseData(d, fs, conf.Source, conf.Username)
	if err != nil {
		log.Fatalf("installing base data: %s", err)
	}

	sweeper := gc.New(d, fs, conf.GCAge.Duration, conf.GCInterval.Duration)
	sweeper.Start()
	defer sweeper.Stop()

	s := &server.RESTServer{
		PortNumber: conf.Port,
		PProfPort:  conf.PProfPort,
		DB:         d,
		FS:         fs,
		IDs:        idcache.New(idcache.DefaultMaxEntries),
		Identity:   identity,
		BaseURL:    conf.BaseURL,
	}
	if err := s.Run(); err != nil {
		log.Fatalf("server: %s", err)
	}
}
