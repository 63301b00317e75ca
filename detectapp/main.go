package main

import (
	"flag"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/qingchenkanlu/baxter-pick-and-place/detectapp/api"
	"github.com/qingchenkanlu/baxter-pick-and-place/detectapp/constants"
	"github.com/qingchenkanlu/baxter-pick-and-place/detectapp/detection"
)

func main() {
	artifactsPath := flag.String("artifacts", constants.ArtifactsPath, "Path for trained cascade artifacts")
	flag.Parse()

	d, err := detection.New(detection.Config{
		ArtifactsPath: *artifactsPath,
	})
	if err != nil {
		log.Print(err)
		return
	}
	defer d.Destroy()

	r := gin.Default()
	r.MaxMultipartMemory = 8 << 20

	a := api.APIs{
		D: d,
	}

	detectGroup := r.Group("/detect")
	{
		detectGroup.GET("", a.ListCascades)
		detectGroup.GET(":cascade", a.ShowCascade)
		detectGroup.POST("", a.DetectDefault)
		detectGroup.POST(":cascade", a.DetectWithCascade)
	}

	r.PUT("/cascades", a.ReloadCascades)

	r.Run(":18080")
}
