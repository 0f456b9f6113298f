package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"arduinohub/internal/detect"
	"arduinohub/internal/generate"
	"arduinohub/internal/grpcserver"
	"arduinohub/pkg/utils"
)

func main() {
	utils.LoadEnv()

	srvCfg := utils.LoadServerConfig()
	detectCfg := utils.LoadDetectConfig()
	genCfg := utils.LoadGenerateConfig()

	detector := detect.NewClient(detectCfg.BaseURL)
	gemini := generate.NewGemini(genCfg.APIKey, genCfg.Model, genCfg.Endpoint)

	monitor := grpcserver.NewMonitor(map[string]grpcserver.Checker{
		grpcserver.ServiceDetect:   grpcserver.CheckFunc(detector.Health),
		grpcserver.ServiceGenerate: grpcserver.CheckFunc(gemini.Health),
	})

	listener, err := net.Listen("tcp", srvCfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen failed: %v", err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger))
	monitor.Register(grpcServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)
	go func() {
		<-ctx.Done()
		log.Println("shutting down gRPC server")
		grpcServer.GracefulStop()
	}()

	log.Printf("gRPC health server listening on %s", srvCfg.GRPCAddr)
	if err := grpcServer.Serve(listener); err != nil {
		log.Fatalf("grpc server stopped: %v", err)
	}
}
