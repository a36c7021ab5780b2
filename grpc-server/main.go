package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	proc "github.com/nci/vex/processor"
	"github.com/nci/vex/utils"
	pb "github.com/nci/vex/worker/extractservice"
	"google.golang.org/grpc"
)

const drainTimeout = 2 * time.Minute

func main() {
	port := flag.Int("p", 6000, "gRPC server listening port.")
	poolSize := flag.Int("n", 0, "Maximum number of extractions handled concurrently, 0 uses the config concurrency.")
	confDir := flag.String("conf_dir", utils.EtcDir, "Worker config directory.")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	config, err := utils.LoadConfig(*confDir, *debug)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(2)
	}

	legend, err := utils.LoadLegend(config.LegendFile())
	if err != nil {
		log.Printf("Failed to load legend: %v", err)
		os.Exit(2)
	}

	utils.InitGdal()

	renderer, err := proc.NewRenderer(config, legend, nil)
	if err != nil {
		log.Printf("Failed to create renderer: %v", err)
		os.Exit(2)
	}
	defer renderer.Close()

	if *poolSize <= 0 {
		*poolSize = config.ServiceConfig.Concurrency
	}
	limiter := proc.NewConcLimiter(*poolSize)

	s := grpc.NewServer()
	pb.RegisterExtractorServer(s, &proc.ExtractServer{Extractor: renderer, Limiter: limiter, Verbose: *debug})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-signals
		log.Printf("Draining %d in-flight extractions", limiter.InFlight())
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(drainTimeout):
			s.Stop()
		}
	}()

	lis, err := reuseport.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	log.Printf("Extraction worker listening on :%d, concurrency %d", *port, limiter.Capacity())
	if err := s.Serve(lis); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
