package training

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/constants"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/data/db"
	"gopkg.in/yaml.v2"
)

// Params opencv_traincascade 실행 파라미터
type Params struct {
	Data string `yaml:"data"`
	Vec  string `yaml:"vec"`
	Bg   string `yaml:"bg"`

	NumPos    int `yaml:"numPos"`
	NumNeg    int `yaml:"numNeg"`
	NumStages int `yaml:"numStages"`

	PrecalcValBufSize int `yaml:"precalcValBufSize"`
	PrecalcIdxBufSize int `yaml:"precalcIdxBufSize"`

	AcceptanceRatioBreakValue float64 `yaml:"acceptanceRatioBreakValue"`

	FeatureType string `yaml:"featureType"`
	Width       int    `yaml:"w"`
	Height      int    `yaml:"h"`

	BoostType         string  `yaml:"bt"`
	MinHitRate        float64 `yaml:"minHitRate"`
	MaxWeightTrimRate float64 `yaml:"maxWeightTrimRate"`
	MaxDepth          int     `yaml:"maxDepth"`
	Mode              string  `yaml:"mode"`
}

// DefaultParams subject 디렉토리에 대한 기본 학습 파라미터 반환
func DefaultParams(subjectDir string) Params {
	return Params{
		Data:                      path.Join(subjectDir, constants.TrainDataDirName),
		Vec:                       path.Join(subjectDir, constants.VecFileName),
		Bg:                        path.Join(subjectDir, constants.BgFileName),
		NumPos:                    constants.NumPos,
		NumNeg:                    constants.NumNeg,
		NumStages:                 constants.NumStages,
		PrecalcValBufSize:         constants.PrecalcValBufSize,
		PrecalcIdxBufSize:         constants.PrecalcIdxBufSize,
		AcceptanceRatioBreakValue: constants.AcceptanceRatioBreakValue,
		FeatureType:               constants.FeatureType,
		Width:                     constants.WindowWidth,
		Height:                    constants.WindowHeight,
		BoostType:                 constants.BoostType,
		MinHitRate:                constants.MinHitRate,
		MaxWeightTrimRate:         constants.MaxWeightTrimRate,
		MaxDepth:                  constants.MaxDepth,
		Mode:                      constants.Mode,
	}
}

// LoadParams yaml 파라미터 파일 로드, 없는 항목은 기본값 유지
func LoadParams(paramsFile string) (Params, error) {
	params := DefaultParams(".")

	buf, err := os.ReadFile(paramsFile)
	if err != nil {
		return params, err
	}

	if err := yaml.Unmarshal(buf, &params); err != nil {
		return params, err
	}

	return params, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Args 외부 trainer에 전달할 argument 목록 구성
func (p Params) Args() []string {
	return []string{
		"-data", p.Data,
		"-vec", p.Vec,
		"-bg", p.Bg,
		"-numPos", strconv.Itoa(p.NumPos),
		"-numNeg", strconv.Itoa(p.NumNeg),
		"-numStages", strconv.Itoa(p.NumStages),
		"-precalcValBufSize", strconv.Itoa(p.PrecalcValBufSize),
		"-precalcIdxBufSize", strconv.Itoa(p.PrecalcIdxBufSize),
		"-acceptanceRatioBreakValue", formatFloat(p.AcceptanceRatioBreakValue),
		"-featureType", p.FeatureType,
		"-w", strconv.Itoa(p.Width),
		"-h", strconv.Itoa(p.Height),
		"-bt", p.BoostType,
		"-minHitRate", formatFloat(p.MinHitRate),
		"-maxWeightTrimRate", formatFloat(p.MaxWeightTrimRate),
		"-maxDepth", strconv.Itoa(p.MaxDepth),
		"-mode", p.Mode,
	}
}

const (
	runStatusReady = iota
	runStatusTrain
	runStatusDone
	runStatusFail
)

// 학습 실행 단위
type tRun struct {
	name   string
	runID  string
	params Params
	status int32

	artifact string
	exitCode int
	errMsg   string
	logFile  string

	startAt  time.Time
	finishAt time.Time
}

// Config Trainer 생성 설정정보
type Config struct {
	TrainerBin    string
	ArtifactsPath string

	Conn *db.DBconn
}

// Trainer 외부 trainer 실행과 학습 실행 목록을 관리
type Trainer struct {
	runs    map[string]*tRun
	rwMutex sync.RWMutex

	trainerBin    string
	artifactsPath string

	conn *db.DBconn
}

func (t *Trainer) addRun(newR *tRun) error {
	if newR.name == "" {
		return fmt.Errorf("Empty run name")
	}

	for name, r := range t.runs {
		if name == newR.name {
			return fmt.Errorf("Duplicated run: %s", newR.name)
		}
		// 외부 trainer가 -data 디렉토리를 점유하므로 같은 디렉토리의 동시 실행은 거부
		if atomic.LoadInt32(&r.status) == runStatusTrain && r.params.Data == newR.params.Data {
			return fmt.Errorf("Data directory in use: %s (%s)", newR.params.Data, r.name)
		}
	}

	t.runs[newR.name] = newR
	return nil
}

func getNewRun(name string, params Params) *tRun {
	return &tRun{
		name:   name,
		runID:  fmt.Sprintf("%s-%s", name, uuid.New().String()[:8]),
		params: params,
		status: runStatusReady,
	}
}

func runStatusString(status int32) string {
	switch status {
	case runStatusReady:
		return "ready"
	case runStatusTrain:
		return "running"
	case runStatusDone:
		return "done"
	case runStatusFail:
		return "failed"
	default:
		return "unknown"
	}
}

// StartRun 새로운 학습 실행 시작
func (t *Trainer) StartRun(name, subject string, params Params) (map[string]interface{}, error) {
	r := getNewRun(name, params)

	t.rwMutex.Lock()
	// 실행 전 슬롯 선점
	if err := t.addRun(r); err != nil {
		t.rwMutex.Unlock()
		return nil, err
	}
	r.startAt = time.Now()
	atomic.StoreInt32(&r.status, runStatusTrain)
	t.rwMutex.Unlock()

	if t.conn != nil {
		if err := t.conn.InsertRun(db.Run{
			RunID:   r.runID,
			Name:    r.name,
			Subject: subject,
			Status:  runStatusString(runStatusTrain),
			StartAt: r.startAt,
		}); err != nil {
			log.Printf("Fail to record run %s: %s", r.runID, err)
		}
	}

	go func() {
		if err := t.execute(context.Background(), r); err != nil {
			log.Printf("Training %s failed: %s", r.runID, err)
		} else {
			log.Printf("Training %s finished: %s", r.runID, r.artifact)
		}
	}()

	return t.runInfo(r), nil
}

// execute 외부 trainer 실행 후 성공 시 artifact 이동
func (t *Trainer) execute(ctx context.Context, r *tRun) error {
	err := t.invoke(ctx, r)
	if err == nil {
		var artifact string
		artifact, err = Relocate(
			r.params.Data,
			path.Join(t.artifactsPath, r.runID+".xml"),
		)
		r.artifact = artifact
	}

	r.finishAt = time.Now()
	if err != nil {
		r.errMsg = err.Error()
		atomic.StoreInt32(&r.status, runStatusFail)
	} else {
		atomic.StoreInt32(&r.status, runStatusDone)
	}

	if t.conn != nil {
		if dbErr := t.conn.UpdateRun(db.Run{
			RunID:    r.runID,
			Status:   runStatusString(atomic.LoadInt32(&r.status)),
			Artifact: r.artifact,
			ExitCode: r.exitCode,
			FinishAt: r.finishAt,
		}); dbErr != nil {
			log.Printf("Fail to update run %s: %s", r.runID, dbErr)
		}
	}

	return err
}

// invoke 외부 trainer process 실행. 실패 원인의 해석은 전적으로 외부 도구의 몫
func (t *Trainer) invoke(ctx context.Context, r *tRun) error {
	if err := os.MkdirAll(r.params.Data, os.ModePerm); err != nil {
		return err
	}
	if err := os.MkdirAll(t.artifactsPath, os.ModePerm); err != nil {
		return err
	}

	r.logFile = path.Join(t.artifactsPath, r.runID+".log")
	logFp, err := os.Create(r.logFile)
	if err != nil {
		return err
	}
	defer logFp.Close()

	cmd := exec.CommandContext(ctx, t.trainerBin, r.params.Args()...)
	cmd.Stdout = logFp
	cmd.Stderr = logFp

	log.Printf("Run %s: %s %v", r.runID, t.trainerBin, r.params.Args())

	err = cmd.Run()
	if cmd.ProcessState != nil {
		r.exitCode = cmd.ProcessState.ExitCode()
	} else {
		r.exitCode = -1
	}

	return err
}

// Relocate 생성 된 cascade 파일을 목적지로 이동
func Relocate(dataDir, dst string) (string, error) {
	src := path.Join(dataDir, constants.CascadeFileName)

	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("No cascade produced: %s", err)
	}

	if err := os.MkdirAll(path.Dir(dst), os.ModePerm); err != nil {
		return "", err
	}

	if err := os.Rename(src, dst); err != nil {
		return "", err
	}

	return dst, nil
}

// Execute 단일 학습 실행. 외부 trainer의 exit code와 에러를 그대로 반환
func Execute(ctx context.Context, trainerBin string, params Params, dst string) (int, error) {
	if err := os.MkdirAll(params.Data, os.ModePerm); err != nil {
		return -1, err
	}

	cmd := exec.CommandContext(ctx, trainerBin, params.Args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return exitCode, err
	}

	// 이동 실패도 실행 실패: 성공 exit code를 그대로 두지 않음
	if _, err := Relocate(params.Data, dst); err != nil {
		return 1, err
	}

	return 0, nil
}

func (t *Trainer) runInfo(r *tRun) map[string]interface{} {
	status := atomic.LoadInt32(&r.status)

	info := map[string]interface{}{
		"run":     r.name,
		"runId":   r.runID,
		"status":  runStatusString(status),
		"data":    r.params.Data,
		"vec":     r.params.Vec,
		"bg":      r.params.Bg,
		"startAt": r.startAt,
	}

	// 종료 후 기록되는 필드는 status 확인 후에만 접근
	if status == runStatusDone || status == runStatusFail {
		info["finishAt"] = r.finishAt
		info["exitCode"] = r.exitCode
		info["log"] = r.logFile

		if r.artifact != "" {
			info["artifact"] = r.artifact
		}
		if r.errMsg != "" {
			info["error"] = r.errMsg
		}
	}

	return info
}

// GetRuns 학습 실행 목록 반환
func (t *Trainer) GetRuns() []string {
	t.rwMutex.RLock()
	defer t.rwMutex.RUnlock()

	var runs []string
	for name := range t.runs {
		runs = append(runs, name)
	}

	return runs
}

// GetRun 학습 실행 정보 반환
func (t *Trainer) GetRun(name string) map[string]interface{} {
	t.rwMutex.RLock()
	defer t.rwMutex.RUnlock()

	r, ok := t.runs[name]
	if !ok {
		return nil
	}

	return t.runInfo(r)
}

// DeleteRun 학습 실행과 artifact 삭제
func (t *Trainer) DeleteRun(name string) error {
	t.rwMutex.Lock()
	defer t.rwMutex.Unlock()

	r, ok := t.runs[name]
	if !ok {
		return fmt.Errorf("No such run: %s", name)
	}

	if atomic.LoadInt32(&r.status) == runStatusTrain {
		return fmt.Errorf("Currently running: %s", name)
	}

	if r.artifact != "" {
		if err := os.Remove(r.artifact); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if r.logFile != "" {
		os.Remove(r.logFile)
	}

	delete(t.runs, name)

	return nil
}

// Artifact 완료 된 학습 실행의 artifact 경로 반환
func (t *Trainer) Artifact(name string) (string, error) {
	t.rwMutex.RLock()
	defer t.rwMutex.RUnlock()

	r, ok := t.runs[name]
	if !ok {
		return "", fmt.Errorf("No such run: %s", name)
	}

	if atomic.LoadInt32(&r.status) != runStatusDone {
		return "", fmt.Errorf("Not finished yet: %s", name)
	}

	return r.artifact, nil
}

// Destroy Trainer 해제
func (t *Trainer) Destroy() {
	t.rwMutex.RLock()
	defer t.rwMutex.RUnlock()

	for name, r := range t.runs {
		if atomic.LoadInt32(&r.status) == runStatusTrain {
			log.Printf("Run %s still in progress", name)
		}
	}
}

// New 새로운 Trainer 생성
func New(c Config) (*Trainer, error) {
	trainerBin := c.TrainerBin
	if trainerBin == "" {
		trainerBin = constants.TrainerBin
	}

	artifactsPath := c.ArtifactsPath
	if artifactsPath == "" {
		artifactsPath = constants.ArtifactsPath
	}

	t := &Trainer{
		runs:          make(map[string]*tRun),
		trainerBin:    trainerBin,
		artifactsPath: artifactsPath,
		conn:          c.Conn,
	}

	return t, nil
}
