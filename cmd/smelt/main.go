package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/smeltdaq/smelt"
	"github.com/smeltdaq/smelt/internal/npycap"
	"github.com/smeltdaq/smelt/internal/runlog"
	"github.com/smeltdaq/smelt/internal/usbtrans"
)

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("samplerate", float64(smelt.DefaultSampleRate))

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotSmelt := filepath.Join(home, ".smelt")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotSmelt, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/smelt"))
	viper.AddConfigPath(dotSmelt)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig() // Find and read the config file
	if err != nil {            // Handle errors reading the config file
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// runCapture performs a one-shot acquisition of nrows rows, optionally over
// USB, optionally saving the rows to an npy file and the run metadata to the
// database, and prints a per-signal summary.
func runCapture(nrows int, rate float64, npyPath string, useUSB, useDB bool) error {
	session := smelt.NewSession()
	device := smelt.NewDevice()
	if err := session.AddDevice(device); err != nil {
		return err
	}
	sourceName := "loopback"
	if useUSB {
		transport, err := usbtrans.Open(device.NumSignals())
		if err != nil {
			return fmt.Errorf("could not open USB transport: %w", err)
		}
		defer transport.Close()
		if err := session.SetTransport(transport); err != nil {
			return err
		}
		sourceName = "usb"
	}
	actual := session.Configure(rate)
	if actual < 0 {
		return fmt.Errorf("could not configure sample rate %.1f SPS", rate)
	}
	log.Printf("capturing %d rows at %.1f SPS from the %s transport\n", nrows, actual, sourceName)

	db := runlog.Dummy()
	abortDB := make(chan struct{})
	if useDB {
		hostname, _ := os.Hostname()
		activity := &runlog.ActivityMessage{
			ID:        runlog.NewID(),
			Hostname:  hostname,
			Githash:   smelt.Build.Githash,
			Version:   smelt.Build.Version,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
			Start:     smelt.StartTime,
		}
		db = runlog.Start(activity, abortDB)
	}
	runEntry := &runlog.RunMessage{
		ID:         runlog.NewID(),
		SourceName: sourceName,
		Nsignals:   device.NumSignals(),
		SampleRate: actual,
		QueueSize:  session.QueueSize(),
		Continuous: true,
		Start:      time.Now(),
	}
	db.RecordRun(runEntry)

	if err := session.Start(uint64(nrows)); err != nil {
		return err
	}
	rows := make([][]float64, 0, nrows)
	for len(rows) < nrows {
		batch, err := device.Read(nrows-len(rows), time.Second)
		if err == smelt.ErrSampleDrop {
			log.Printf("sample drop observed after %d rows\n", len(rows))
		} else if err != nil {
			session.End()
			return err
		}
		for _, row := range batch {
			rows = append(rows, row)
		}
		if len(batch) == 0 {
			break // production is done and the queue is drained
		}
	}
	session.End()

	runEntry.RowsProduced = session.RowsProduced()
	runEntry.DropsObserved = session.DropsObserved()
	db.FinishRun(runEntry)
	if useDB {
		close(abortDB)
		db.Wait()
	}

	if npyPath != "" {
		if err := npycap.WriteRows(npyPath, rows); err != nil {
			return err
		}
		log.Printf("wrote %d rows to %s\n", len(rows), npyPath)
	}

	// Per-signal summary of the captured data.
	column := make([]float64, len(rows))
	for j := 0; j < device.NumSignals(); j++ {
		for i, row := range rows {
			column[i] = row[j]
		}
		mean, std := stat.MeanStdDev(column, nil)
		log.Printf("signal %-4s mean %9.5f  stddev %9.5f\n", device.Signal(j).Name, mean, std)
	}
	return nil
}

func main() {
	printVersion := flag.Bool("version", false, "print version and quit")
	captureRows := flag.Int("capture", 0, "capture this many rows and exit (0 means run the RPC server)")
	rate := flag.Float64("rate", smelt.DefaultSampleRate, "sample rate in SPS for -capture")
	npyPath := flag.String("npy", "", "write captured rows to this npy file")
	useUSB := flag.Bool("usb", false, "use the USB transport instead of the loopback")
	useDB := flag.Bool("db", false, "record run metadata to ClickHouse")
	flag.Parse()

	if *printVersion {
		fmt.Printf("smelt version %s (git commit %s)\n", smelt.Build.Version, smelt.Build.Githash)
		fmt.Printf("build date: %s\n", smelt.Build.Date)
		os.Exit(0)
	}

	if err := setupViper(); err != nil {
		panic(err)
	}
	pfname, err := makeFileExist(filepath.FromSlash("$HOME/.smelt/logs"), "problems.log")
	if err != nil {
		panic(err)
	}
	smelt.ProblemLogger = startLogger(pfname)

	if *captureRows > 0 {
		if err := runCapture(*captureRows, *rate, *npyPath, *useUSB, *useDB); err != nil {
			log.Fatal(err)
		}
		return
	}

	messageChan := make(chan smelt.StatusUpdate, 10)
	go smelt.RunStatusUpdater(messageChan, smelt.Ports.Status)
	smelt.RunControlServer(messageChan, smelt.Ports.RPC)
}
