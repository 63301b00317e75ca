package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qingchenkanlu/baxter-pick-and-place/detectapp/constants"
	"github.com/qingchenkanlu/baxter-pick-and-place/detectapp/detection"
)

// APIs api 핸들러
type APIs struct {
	D *detection.Detection
}

// ListCascades cascade 검출기 목록 반환
func (a *APIs) ListCascades(c *gin.Context) {
	cascades := a.D.GetCascades()
	c.JSON(http.StatusOK, gin.H{
		"cascades": cascades,
	})
}

// ReloadCascades artifact 디렉토리에서 cascade 검출기 재로드
func (a *APIs) ReloadCascades(c *gin.Context) {
	if err := a.D.Reload(); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.String(http.StatusOK, "OK")
	}
}

// DetectDefault 기본 cascade를 이용한 검출
func (a *APIs) DetectDefault(c *gin.Context) {
	a.detect(c, constants.DefaultCascadeName)
}

// DetectWithCascade cascade를 이용한 검출
func (a *APIs) DetectWithCascade(c *gin.Context) {
	cascade := c.Param("cascade")
	a.detect(c, cascade)
}

func (a *APIs) detect(c *gin.Context, cascade string) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	var (
		image bytes.Buffer
		bytes int64
	)

	if n, err := io.Copy(&image, file); err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	} else {
		bytes = n
	}

	t0 := time.Now()
	if boxes, err := a.D.Detect(cascade, image.Bytes()); err == nil {
		elapsed := time.Since(t0)
		c.JSON(http.StatusOK, gin.H{
			"image":       header.Filename,
			"bytes":       bytes,
			"cascade":     cascade,
			"count":       len(boxes),
			"objects":     boxes,
			"elapsed(ms)": elapsed.Milliseconds(),
		})
	} else {
		Error(c, http.StatusBadRequest, err)
	}
}

// ShowCascade cascade 검출기 정보 반환
func (a *APIs) ShowCascade(c *gin.Context) {
	cascade := c.Param("cascade")

	for _, name := range a.D.GetCascades() {
		if name == cascade {
			c.JSON(http.StatusOK, gin.H{
				"cascade": name,
			})
			return
		}
	}

	Error(c, http.StatusBadRequest, fmt.Errorf("Cannot find cascade info: %s", cascade))
}

// HTTPError api 에러 메시지
type HTTPError struct {
	Error string `json:"error"`
}

// Error api 에러를 담은 json 응답 생성
func Error(c *gin.Context, status int, err error) {
	c.JSON(status, HTTPError{
		Error: err.Error(),
	})
}
