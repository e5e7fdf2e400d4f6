// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/gorse-io/recommender/base/log"
	"github.com/gorse-io/recommender/cmd/version"
	"github.com/gorse-io/recommender/config"
	"github.com/gorse-io/recommender/logics"
	"github.com/gorse-io/recommender/server"
	"github.com/gorse-io/recommender/storage/blob"
	"github.com/gorse-io/recommender/storage/data"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var recommenderCommand = &cobra.Command{
	Use:   "gorse-recommender",
	Short: "Serve recommendations from pretrained models.",
	Run: func(cmd *cobra.Command, args []string) {
		// show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}

		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)

		// load config
		configPath, _ := cmd.PersistentFlags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		conf, err := config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		if cmd.PersistentFlags().Changed("http-port") {
			conf.Server.Port, _ = cmd.PersistentFlags().GetInt("http-port")
		}
		if cmd.PersistentFlags().Changed("jobs") {
			conf.Server.NumJobs, _ = cmd.PersistentFlags().GetInt("jobs")
		}

		// setup trace provider
		tp, err := conf.Tracing.NewTracerProvider()
		if err != nil {
			log.Logger().Fatal("failed to create trace provider", zap.Error(err))
		}
		otel.SetTracerProvider(tp)
		otel.SetErrorHandler(log.GetErrorHandler())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

		// open catalog
		catalog, err := data.Open(conf.Catalog)
		if err != nil {
			log.Logger().Fatal("failed to open catalog",
				zap.String("store", log.RedactDBURL(conf.Catalog.Store)), zap.Error(err))
		}
		if err = catalog.Ping(context.Background()); err != nil {
			log.Logger().Warn("catalog is not reachable", zap.Error(err))
		}

		// load models
		store, err := blob.Open(conf)
		if err != nil {
			log.Logger().Fatal("failed to open artifact storage", zap.Error(err))
		}
		registry := logics.LoadRegistry(context.Background(), conf, store, catalog)
		for name, status := range registry.Status() {
			if !status.Loaded {
				log.Logger().Warn("strategy unavailable", zap.String("strategy", name), zap.String("error", status.Error))
			}
		}

		// stop server
		s := server.NewRestServer(conf, catalog, registry)
		done := make(chan struct{})
		go func() {
			sigint := make(chan os.Signal, 1)
			signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
			<-sigint
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Shutdown(ctx); err != nil {
				log.Logger().Error("failed to shutdown http server", zap.Error(err))
			}
			if sdk, ok := tp.(*tracesdk.TracerProvider); ok {
				if err := sdk.Shutdown(ctx); err != nil {
					log.Logger().Error("failed to shutdown trace provider", zap.Error(err))
				}
			}
			close(done)
		}()
		// start server
		s.StartHttpServer(restful.NewContainer())
		<-done
		if err = catalog.Close(); err != nil {
			log.Logger().Error("failed to close catalog", zap.Error(err))
		}
		log.Logger().Info("stop gorse-recommender successfully")
	},
}

func init() {
	log.AddFlags(recommenderCommand.PersistentFlags())
	recommenderCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	recommenderCommand.PersistentFlags().BoolP("version", "v", false, "gorse version")
	recommenderCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	recommenderCommand.PersistentFlags().Int("http-port", 8000, "port of RESTful API")
	recommenderCommand.PersistentFlags().IntP("jobs", "j", 1, "number of workers scoring whole-catalog requests")
}

func main() {
	if err := recommenderCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
