// kubescaler hibernates workloads on a declarative schedule. It scans all
// eligible namespaces on a fixed cadence, scales annotated Deployments,
// StatefulSets, CronJobs and HorizontalPodAutoscalers down during
// off-hours, snapshots their state to ConfigMaps first, and restores the
// snapshots when the on-hours schedule fires.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kubescaler-io/kubescaler/internal/backup"
	"github.com/kubescaler-io/kubescaler/internal/config"
	"github.com/kubescaler-io/kubescaler/internal/logging"
	"github.com/kubescaler-io/kubescaler/internal/reconciler"
)

func main() {
	var (
		verbosity int
		devMode   bool
	)
	pflag.IntVarP(&verbosity, "verbosity", "v", 0, "Log verbosity; higher is chattier.")
	pflag.BoolVar(&devMode, "dev-logging", false, "Use the human-readable console log encoder.")
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	ctrl.SetLogger(logging.NewLogger(verbosity, devMode))
	setupLog := ctrl.Log.WithName("setup")

	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		setupLog.Error(err, "Invalid configuration")
		os.Exit(1)
	}
	setupLog.Info("Starting kubescaler",
		"maxBackupsToRetain", cfg.MaxBackupsToRetain,
		"reconcileInterval", cfg.ReconcileInterval,
		"metricsBindAddress", cfg.MetricsBindAddress)

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		setupLog.Error(err, "Failed to load cluster credentials")
		os.Exit(1)
	}

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		setupLog.Error(err, "Failed to build scheme")
		os.Exit(1)
	}
	k8sClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "Failed to construct cluster client")
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()

	metricsServer := newMetricsServer(cfg.MetricsBindAddress)
	go func() {
		setupLog.Info("Serving metrics", "address", cfg.MetricsBindAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			setupLog.Error(err, "Metrics server failed")
		}
	}()

	store := backup.NewStore(k8sClient, cfg.MaxBackupsToRetain)
	loop := reconciler.NewLoop(reconciler.New(k8sClient, store), cfg.ReconcileInterval)

	// Blocks until the signal context is canceled and the in-flight
	// sweep has finished.
	if err := loop.Start(ctx); err != nil {
		setupLog.Error(err, "Reconciliation loop failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		setupLog.Error(err, "Metrics server shutdown failed")
	}
	setupLog.Info("kubescaler stopped")
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
