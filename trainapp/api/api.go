package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/data"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/training"
)

// APIs api 핸들러
type APIs struct {
	T *training.Trainer
	M *data.Manager
}

// ListRuns 학습 실행 목록 반환
func (a *APIs) ListRuns(c *gin.Context) {
	runs := a.T.GetRuns()
	c.JSON(http.StatusOK, gin.H{
		"runs": runs,
	})
}

// ShowRun 학습 실행 정보 반환
func (a *APIs) ShowRun(c *gin.Context) {
	run := c.Param("run")

	if info := a.T.GetRun(run); info != nil {
		c.JSON(http.StatusOK, info)
	} else {
		Error(c, http.StatusBadRequest, fmt.Errorf("Cannot find run info: %s", run))
	}
}

// StartRun 학습 실행 시작
func (a *APIs) StartRun(c *gin.Context) {
	run := c.Param("run")
	if run == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty run name"))
		return
	}

	subject := c.Query("subject")
	if subject == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty `subject`"))
		return
	}

	subjectDir := a.M.SubjectDir(subject)
	params := training.DefaultParams(subjectDir)

	if numPos, err := strconv.Atoi(c.Query("numPos")); err == nil {
		params.NumPos = numPos
	}
	if numNeg, err := strconv.Atoi(c.Query("numNeg")); err == nil {
		params.NumNeg = numNeg
	}
	if numStages, err := strconv.Atoi(c.Query("numStages")); err == nil {
		params.NumStages = numStages
	}

	// background list는 매 실행마다 현재 negative 이미지로 재생성
	bgFile, nrNegatives, err := data.WriteBackgroundList(subjectDir)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	params.Bg = bgFile

	vec, err := data.ReadVecInfo(params.Vec)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	if !vec.Matches(params.Width, params.Height) {
		Error(c, http.StatusBadRequest, fmt.Errorf(
			"Vector size %d does not match window %dx%d",
			vec.VecSize, params.Width, params.Height,
		))
		return
	}
	if int(vec.Count) < params.NumPos {
		Error(c, http.StatusBadRequest, fmt.Errorf(
			"Not enough positive samples: %d < %d",
			vec.Count, params.NumPos,
		))
		return
	}

	if res, err := a.T.StartRun(run, subject, params); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		res["negatives"] = nrNegatives
		res["positives"] = vec.Count
		c.JSON(http.StatusOK, res)
	}
}

// DeleteRun 학습 실행 삭제
func (a *APIs) DeleteRun(c *gin.Context) {
	run := c.Param("run")
	if run == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty run name"))
		return
	}

	if err := a.T.DeleteRun(run); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.String(http.StatusOK, "OK")
	}
}

// DownloadArtifact 학습 된 cascade 파일 반환
func (a *APIs) DownloadArtifact(c *gin.Context) {
	run := c.Param("run")

	artifact, err := a.T.Artifact(run)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	c.File(artifact)
}

// UploadImages image 업로드
func (a *APIs) UploadImages(c *gin.Context) {
	var (
		subject string
		kind    string
	)
	if subject = c.Query("subject"); subject == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty `subject`"))
		return
	}
	if kind = c.Query("kind"); kind == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty `kind`"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	images := form.File["images[]"]
	_, verbose := c.GetQuery("verbose")

	if result, err := a.M.SaveImages(subject, kind, images, c.SaveUploadedFile, verbose); err != nil {
		Error(c, http.StatusBadRequest, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
}

// DeleteImages image 삭제
func (a *APIs) DeleteImages(c *gin.Context) {
	subject := c.Query("subject")
	kind := c.Query("kind")
	fileName := c.Query("filename")
	orgFileName := c.Query("orgfilename")
	_, verbose := c.GetQuery("verbose")

	if result, err := a.M.DeleteImages(subject, kind, fileName, orgFileName, verbose); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
}

// ListImages image 목록 반환
func (a *APIs) ListImages(c *gin.Context) {
	subject := c.Query("subject")
	kind := c.Query("kind")

	if result, err := a.M.ListImages(subject, kind); err != nil {
		Error(c, http.StatusBadRequest, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
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
