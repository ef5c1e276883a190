// cmd/queueserver is the main entrypoint for a queue node: it binds one
// coordination-service connection, exposes every queue directory clients
// ask for through the HTTP control plane, and drains in-flight
// offer-and-wait calls before exiting.
//
// Example — real ZooKeeper ensemble:
//
//	./queueserver --zk localhost:2181 --addr :8080 --max-queue-size 10000
//
// Example — in-memory fake, for local development without ZooKeeper:
//
//	./queueserver --fake --addr :8080
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"distributed-zk-queue/internal/api"
	"distributed-zk-queue/internal/zkclient"

	"github.com/gin-gonic/gin"
)

func main() {
	zkServers := flag.String("zk", "", "Comma-separated ZooKeeper ensemble (host:port,...)")
	fake := flag.Bool("fake", false, "Use an in-memory coordination-service stand-in instead of --zk")
	sessionTimeout := flag.Duration("session-timeout", 10*time.Second, "Coordination-service session timeout")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	maxQueueSize := flag.Int("max-queue-size", 0, "Capacity bound applied to every queue directory opened (0 = unbounded)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 15*time.Second, "Grace period for draining in-flight offer-and-wait calls")
	flag.Parse()

	conn, err := dialConn(*zkServers, *fake, *sessionTimeout)
	if err != nil {
		log.Fatalf("dial coordination service: %v", err)
	}
	defer conn.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	handler := api.NewHandler(conn, *maxQueueSize)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // blocking take()/offerAndWait() calls may legitimately run long
	}

	go func() {
		log.Printf("queueserver listening on %s (max-queue-size=%d)", *addr, *maxQueueSize)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down queueserver")
	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()

	if err := handler.Shutdown(ctx); err != nil {
		log.Printf("drain pending responses: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}

func dialConn(zkServers string, fake bool, sessionTimeout time.Duration) (zkclient.Conn, error) {
	if fake {
		return zkclient.NewFake(), nil
	}
	if zkServers == "" {
		log.Fatal("one of --zk or --fake is required")
	}
	return zkclient.Dial(strings.Split(zkServers, ","), sessionTimeout)
}
