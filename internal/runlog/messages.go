package runlog

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the smeltactivity table: one entry
// per daemon lifetime.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the runs table:
// one entry per acquisition run.
type RunMessage struct {
	ID            string
	ActivityID    string
	SourceName    string
	Nsignals      int
	SampleRate    float64
	QueueSize     int
	Continuous    bool
	RowsProduced  uint64
	DropsObserved uint64
	Start         time.Time
	End           time.Time
}
