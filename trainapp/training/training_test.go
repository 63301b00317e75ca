package training

import (
	"context"
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/constants"
)

// 인자 순서: -data $2 -vec $4 -bg $6 ...
const stubTrainer = `#!/bin/sh
printf '<cascade/>' > "$2"/cascade.xml
exit 0
`

const stubTrainerFail = `#!/bin/sh
exit 3
`

// dataset 파일이 없으면 실제 trainer처럼 비정상 종료
const stubTrainerCheckBg = `#!/bin/sh
[ -f "$6" ] || exit 1
printf '<cascade/>' > "$2"/cascade.xml
exit 0
`

// 정상 종료하지만 cascade 파일을 만들지 않는 trainer
const stubTrainerNoCascade = `#!/bin/sh
exit 0
`

func writeStubTrainer(t *testing.T, script string) string {
	t.Helper()

	bin := path.Join(t.TempDir(), "opencv_traincascade")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	return bin
}

func TestDefaultParamsArgs(t *testing.T) {
	params := DefaultParams("/cascade/datasets/apple")
	args := params.Args()

	expected := []string{
		"-data", "/cascade/datasets/apple/data",
		"-vec", "/cascade/datasets/apple/positives.vec",
		"-bg", "/cascade/datasets/apple/bg.txt",
		"-numPos", "1800",
		"-numNeg", "900",
		"-numStages", "20",
		"-precalcValBufSize", "2048",
		"-precalcIdxBufSize", "2048",
		"-acceptanceRatioBreakValue", "1e-05",
		"-featureType", "HAAR",
		"-w", "24",
		"-h", "24",
		"-bt", "GAB",
		"-minHitRate", "0.995",
		"-maxWeightTrimRate", "0.95",
		"-maxDepth", "1",
		"-mode", "ALL",
	}
	assert.Equal(t, expected, args)
}

func TestLoadParams(t *testing.T) {
	paramsFile := path.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(paramsFile, []byte(
		"data: out\nvec: apple.vec\nbg: negatives.txt\nnumPos: 100\nnumStages: 5\n",
	), 0o644))

	params, err := LoadParams(paramsFile)
	require.NoError(t, err)

	assert.Equal(t, "out", params.Data)
	assert.Equal(t, "apple.vec", params.Vec)
	assert.Equal(t, "negatives.txt", params.Bg)
	assert.Equal(t, 100, params.NumPos)
	assert.Equal(t, 5, params.NumStages)

	// 지정하지 않은 항목은 기본값 유지
	assert.Equal(t, constants.NumNeg, params.NumNeg)
	assert.Equal(t, constants.FeatureType, params.FeatureType)
	assert.Equal(t, constants.MinHitRate, params.MinHitRate)
}

func TestLoadParamsMissingFile(t *testing.T) {
	_, err := LoadParams(path.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestRelocate(t *testing.T) {
	dataDir := t.TempDir()
	src := path.Join(dataDir, constants.CascadeFileName)
	require.NoError(t, os.WriteFile(src, []byte("<cascade/>"), 0o644))

	dst := path.Join(t.TempDir(), "apple.xml")
	artifact, err := Relocate(dataDir, dst)
	require.NoError(t, err)
	assert.Equal(t, dst, artifact)

	// 이동 후 원본은 남아있지 않아야 함
	assert.FileExists(t, dst)
	assert.NoFileExists(t, src)
}

func TestRelocateMissingSource(t *testing.T) {
	_, err := Relocate(t.TempDir(), path.Join(t.TempDir(), "apple.xml"))
	assert.Error(t, err)
}

func TestExecuteProducesArtifact(t *testing.T) {
	bin := writeStubTrainer(t, stubTrainer)

	subjectDir := t.TempDir()
	params := DefaultParams(subjectDir)
	dst := path.Join(t.TempDir(), "cascade.xml")

	exitCode, err := Execute(context.Background(), bin, params, dst)
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)

	assert.FileExists(t, dst)
	assert.NoFileExists(t, path.Join(params.Data, constants.CascadeFileName))
}

func TestExecuteTrainerFails(t *testing.T) {
	bin := writeStubTrainer(t, stubTrainerFail)

	subjectDir := t.TempDir()
	params := DefaultParams(subjectDir)
	dst := path.Join(t.TempDir(), "cascade.xml")

	exitCode, err := Execute(context.Background(), bin, params, dst)
	assert.Error(t, err)
	assert.Equal(t, 3, exitCode)
	assert.NoFileExists(t, dst)
}

func TestExecuteMissingDataset(t *testing.T) {
	bin := writeStubTrainer(t, stubTrainerCheckBg)

	subjectDir := t.TempDir()
	params := DefaultParams(subjectDir)
	// background list를 만들지 않음
	dst := path.Join(t.TempDir(), "cascade.xml")

	exitCode, err := Execute(context.Background(), bin, params, dst)
	assert.Error(t, err)
	assert.Equal(t, 1, exitCode)
	assert.NoFileExists(t, dst)
}

func TestExecuteNoCascadeProduced(t *testing.T) {
	bin := writeStubTrainer(t, stubTrainerNoCascade)

	subjectDir := t.TempDir()
	params := DefaultParams(subjectDir)
	dst := path.Join(t.TempDir(), "cascade.xml")

	// trainer는 성공했지만 이동할 파일이 없으면 실행 전체가 실패
	exitCode, err := Execute(context.Background(), bin, params, dst)
	assert.Error(t, err)
	assert.NotEqual(t, 0, exitCode)
	assert.NoFileExists(t, dst)
}

func TestExecuteMissingTrainer(t *testing.T) {
	params := DefaultParams(t.TempDir())
	dst := path.Join(t.TempDir(), "cascade.xml")

	exitCode, err := Execute(context.Background(), path.Join(t.TempDir(), "none"), params, dst)
	assert.Error(t, err)
	assert.NotEqual(t, 0, exitCode)
}

func waitForRun(t *testing.T, trainer *Trainer, name string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		info := trainer.GetRun(name)
		require.NotNil(t, info)

		status := info["status"].(string)
		if status == "done" || status == "failed" {
			return info
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("run %s did not finish", name)
	return nil
}

func TestStartRun(t *testing.T) {
	bin := writeStubTrainer(t, stubTrainer)
	artifactsPath := t.TempDir()

	trainer, err := New(Config{
		TrainerBin:    bin,
		ArtifactsPath: artifactsPath,
	})
	require.NoError(t, err)
	defer trainer.Destroy()

	params := DefaultParams(t.TempDir())
	res, err := trainer.StartRun("apple", "apple", params)
	require.NoError(t, err)
	assert.Equal(t, "apple", res["run"])

	info := waitForRun(t, trainer, "apple")
	assert.Equal(t, "done", info["status"])
	assert.Equal(t, 0, info["exitCode"])

	artifact := info["artifact"].(string)
	assert.FileExists(t, artifact)
	assert.NoFileExists(t, path.Join(params.Data, constants.CascadeFileName))

	artifactPath, err := trainer.Artifact("apple")
	require.NoError(t, err)
	assert.Equal(t, artifact, artifactPath)
}

func TestStartRunTrainerFails(t *testing.T) {
	bin := writeStubTrainer(t, stubTrainerFail)

	trainer, err := New(Config{
		TrainerBin:    bin,
		ArtifactsPath: t.TempDir(),
	})
	require.NoError(t, err)
	defer trainer.Destroy()

	params := DefaultParams(t.TempDir())
	_, err = trainer.StartRun("apple", "apple", params)
	require.NoError(t, err)

	info := waitForRun(t, trainer, "apple")
	assert.Equal(t, "failed", info["status"])
	assert.Equal(t, 3, info["exitCode"])
	assert.NotContains(t, info, "artifact")

	_, err = trainer.Artifact("apple")
	assert.Error(t, err)
}

func TestStartRunDuplicated(t *testing.T) {
	bin := writeStubTrainer(t, stubTrainer)

	trainer, err := New(Config{
		TrainerBin:    bin,
		ArtifactsPath: t.TempDir(),
	})
	require.NoError(t, err)
	defer trainer.Destroy()

	params := DefaultParams(t.TempDir())
	_, err = trainer.StartRun("apple", "apple", params)
	require.NoError(t, err)

	_, err = trainer.StartRun("apple", "apple", params)
	assert.Error(t, err)

	waitForRun(t, trainer, "apple")
}

func TestDeleteRun(t *testing.T) {
	bin := writeStubTrainer(t, stubTrainer)

	trainer, err := New(Config{
		TrainerBin:    bin,
		ArtifactsPath: t.TempDir(),
	})
	require.NoError(t, err)
	defer trainer.Destroy()

	params := DefaultParams(t.TempDir())
	_, err = trainer.StartRun("apple", "apple", params)
	require.NoError(t, err)

	info := waitForRun(t, trainer, "apple")
	artifact := info["artifact"].(string)

	require.NoError(t, trainer.DeleteRun("apple"))
	assert.NoFileExists(t, artifact)
	assert.Nil(t, trainer.GetRun("apple"))

	assert.Error(t, trainer.DeleteRun("apple"))
}
