package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/api"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/constants"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/data"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/training"
)

func main() {
	datasetsPath := flag.String("datasets", constants.DatasetsPath, "Path for training datasets")
	artifactsPath := flag.String("artifacts", constants.ArtifactsPath, "Path for trained cascade artifacts")
	trainerBin := flag.String("trainer", constants.TrainerBin, "External cascade trainer binary")
	trainFile := flag.String("train", "", "Parameter file for one-shot training")
	trainOut := flag.String("out", constants.CascadeFileName, "Destination of the cascade for one-shot training")
	flag.Parse()

	// 한번 실행 모드: 외부 trainer 호출 후 cascade 이동, exit code는 그대로 전파
	if *trainFile != "" {
		params, err := training.LoadParams(*trainFile)
		if err != nil {
			log.Fatal(err)
		}

		exitCode, err := training.Execute(context.Background(), *trainerBin, params, *trainOut)
		if err != nil {
			log.Print(err)
			if exitCode <= 0 {
				exitCode = 1
			}
		}
		os.Exit(exitCode)
	}

	m, err := data.New(*datasetsPath)
	if err != nil {
		log.Fatal(err)
	}

	t, err := training.New(training.Config{
		TrainerBin:    *trainerBin,
		ArtifactsPath: *artifactsPath,
		Conn:          m.Conn,
	})
	if err != nil {
		log.Fatal(err)
	}

	r := gin.Default()
	r.MaxMultipartMemory = 8 << 20

	a := api.APIs{
		T: t,
		M: m,
	}

	runsGroup := r.Group("/runs")
	{
		runsGroup.GET("", a.ListRuns)
		runsGroup.GET(":run", a.ShowRun)
		runsGroup.POST(":run", a.StartRun)
		runsGroup.DELETE(":run", a.DeleteRun)
	}

	r.GET("/artifacts/:run", a.DownloadArtifact)

	imagesGroup := r.Group("/images")
	{
		imagesGroup.GET("", a.ListImages)
		imagesGroup.POST("", a.UploadImages)
		imagesGroup.DELETE("", a.DeleteImages)
	}

	server := &http.Server{
		Addr:    ":18080",
		Handler: r,
	}

	serve(server, 5*time.Second)

	t.Destroy()
	m.Destroy()
}

// serve 종료 signal까지 http server 운영 후 graceful shutdown
func serve(server *http.Server, timeout time.Duration) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %s", err)
	}
}
