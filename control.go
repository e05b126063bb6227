package smelt

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/spf13/viper"
)

// ControlServer is the sub-server that handles configuration and operation of
// the acquisition session over JSON-RPC.
type ControlServer struct {
	session *Session
	device  *Device

	clientUpdates chan<- StatusUpdate
}

// ServerStatus is the status that ControlServer reports to clients.
type ServerStatus struct {
	State         string
	SampleRate    float64
	QueueSize     int
	Nsignals      int
	RowsProduced  uint64
	DropsObserved uint64
}

// NewControlServer creates a control server for the given session and device.
func NewControlServer(session *Session, device *Device, updates chan<- StatusUpdate) *ControlServer {
	return &ControlServer{session: session, device: device, clientUpdates: updates}
}

// ConfigureArgs holds the arguments to a Configure operation.
type ConfigureArgs struct {
	TargetRate float64
}

// Configure quantizes the session to the nearest achievable sample rate and
// persists the result. The reply is the achieved rate, negative on failure.
func (cs *ControlServer) Configure(args *ConfigureArgs, reply *float64) error {
	log.Printf("Configure: target rate %.3f SPS\n", args.TargetRate)
	actual := cs.session.Configure(args.TargetRate)
	*reply = actual
	if actual > 0 {
		viper.Set("samplerate", actual)
		if err := viper.WriteConfig(); err != nil {
			ProblemLogger.Printf("could not persist sample rate: %v", err)
		}
	}
	cs.broadcastStatus()
	return nil
}

// RunArgs holds the arguments to a fixed-length Run operation.
type RunArgs struct {
	Nsamples int
}

// Run produces a fixed number of rows synchronously. A sample drop surfaces
// as an RPC error; the buffered rows remain readable.
func (cs *ControlServer) Run(args *RunArgs, reply *bool) error {
	log.Printf("Run: %d samples\n", args.Nsamples)
	err := cs.session.Run(args.Nsamples)
	*reply = (err == nil)
	cs.broadcastStatus()
	return err
}

// StartArgs holds the arguments to a continuous Start operation.
type StartArgs struct {
	Limit uint64
}

// Start begins continuous background production. Limit 0 means unbounded.
func (cs *ControlServer) Start(args *StartArgs, reply *bool) error {
	log.Printf("Start: continuous production, limit %d\n", args.Limit)
	err := cs.session.Start(args.Limit)
	*reply = (err == nil)
	cs.broadcastStatus()
	return err
}

// Cancel requests the continuous loop stop; it does not wait for it.
func (cs *ControlServer) Cancel(dummy *string, reply *bool) error {
	cs.session.Cancel()
	*reply = true
	cs.broadcastStatus()
	return nil
}

// End blocks until the production loop has fully stopped.
func (cs *ControlServer) End(dummy *string, reply *bool) error {
	cs.session.End()
	*reply = true
	cs.broadcastStatus()
	return nil
}

// Flush clears the sample queues and their overflow flags.
func (cs *ControlServer) Flush(dummy *string, reply *bool) error {
	err := cs.session.Flush()
	*reply = (err == nil)
	return err
}

// ReadArgs holds the arguments to a ReadSamples operation. TimeoutMS follows
// the device read contract: 0 non-blocking, negative unbounded, positive a
// bounded wait in milliseconds.
type ReadArgs struct {
	Count     int
	TimeoutMS int
}

// ReadReply carries the rows collected by ReadSamples. Dropped is true when
// an overflow was observed; the rows returned alongside it are still valid.
type ReadReply struct {
	Rows    [][]float64
	Dropped bool
}

// ReadSamples collects rows from the incoming queue on behalf of a client.
func (cs *ControlServer) ReadSamples(args *ReadArgs, reply *ReadReply) error {
	timeout := time.Duration(args.TimeoutMS) * time.Millisecond
	if args.TimeoutMS < 0 {
		timeout = -1
	}
	rows, err := cs.device.Read(args.Count, timeout)
	reply.Rows = make([][]float64, len(rows))
	for i, row := range rows {
		reply.Rows[i] = row
	}
	if err == ErrSampleDrop {
		reply.Dropped = true
		return nil
	}
	return err
}

// Status reports the current server status.
func (cs *ControlServer) Status(dummy *string, reply *ServerStatus) error {
	*reply = cs.currentStatus()
	return nil
}

func (cs *ControlServer) currentStatus() ServerStatus {
	return ServerStatus{
		State:         cs.session.State().String(),
		SampleRate:    cs.session.SampleRate(),
		QueueSize:     cs.session.QueueSize(),
		Nsignals:      cs.device.NumSignals(),
		RowsProduced:  cs.session.RowsProduced(),
		DropsObserved: cs.session.DropsObserved(),
	}
}

func (cs *ControlServer) broadcastStatus() {
	if cs.clientUpdates == nil {
		return
	}
	select {
	case cs.clientUpdates <- StatusUpdate{Tag: "STATUS", Message: cs.currentStatus()}:
	default:
	}
}

// RunControlServer sets up and runs a permanent JSON-RPC server around a
// fresh session and device. Stored settings are restored from the config
// file before the first connection is accepted.
func RunControlServer(messageChan chan StatusUpdate, portrpc int) {
	session := NewSession()
	device := NewDevice()
	if err := session.AddDevice(device); err != nil {
		log.Fatal("could not attach device: ", err)
	}
	session.SetStatusChan(messageChan)
	controlServer := NewControlServer(session, device, messageChan)

	// Load stored settings
	log.Printf("smelt is using config file %s\n", viper.ConfigFileUsed())
	if rate := viper.GetFloat64("samplerate"); rate > 0 {
		if actual := session.Configure(rate); actual < 0 {
			ProblemLogger.Printf("stored sample rate %.1f could not be restored", rate)
		}
	}

	go func() {
		ticker := time.Tick(2 * time.Second)
		for range ticker {
			controlServer.broadcastStatus()
		}
	}()

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	server.Register(controlServer)
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		log.Fatal("listen error:", err)
	}
	for {
		if conn, err := listener.Accept(); err != nil {
			log.Fatal("accept error: " + err.Error())
		} else {
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
}
