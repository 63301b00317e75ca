package db

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDriverName string = "mysql"
	testConnInfo   string = "user1:password1@tcp(db:3306)/cascade_db?parseTime=true"
)

// MySQL이 동작중인 환경에서만 수행되는 통합 테스트
func TestDB(t *testing.T) {
	imageTable := "test_image_tab"
	runTable := "test_run_tab"

	conn, err := New(Config{
		DriverName: testDriverName,
		ConnInfo:   testConnInfo,
		ImageTable: imageTable,
		RunTable:   runTable,
	})
	if err != nil {
		t.Skipf("DB not reachable: %s", err)
	}
	defer conn.Destroy()

	defer func() {
		db, err := sql.Open(testDriverName, testConnInfo)
		if err != nil {
			return
		}
		defer db.Close()

		db.Exec(fmt.Sprintf("DROP TABLE %s;", imageTable))
		db.Exec(fmt.Sprintf("DROP TABLE %s;", runTable))
	}()

	item := Item{
		Subject:     "apple",
		Kind:        "positive",
		OrgFilename: "apple.jpg",
		Filename:    "12345678-apple.jpg",
		FileFormat:  "jpg",
		FilePath:    "/cascade/datasets/apple/positive/12345678-apple.jpg",
		CreateAt:    time.Now(),
	}
	require.NoError(t, conn.Insert(item))

	infos, items, err := conn.Get(Item{Subject: "apple"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), infos.(map[string]int64)["successful"])
	assert.Len(t, items.([]Item), 1)

	deleted, err := conn.Delete(Item{Subject: "apple"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	run := Run{
		RunID:   "apple-12345678",
		Name:    "apple",
		Subject: "apple",
		Status:  "running",
		StartAt: time.Now(),
	}
	require.NoError(t, conn.InsertRun(run))

	run.Status = "done"
	run.Artifact = "/cascade/artifacts/apple-12345678.xml"
	run.FinishAt = time.Now()
	require.NoError(t, conn.UpdateRun(run))

	runs, err := conn.GetRuns("apple")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "done", runs[0].Status)
	assert.Equal(t, run.Artifact, runs[0].Artifact)
}
