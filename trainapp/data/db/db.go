package db

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Config DBconn config
type Config struct {
	DriverName string
	ConnInfo   string

	ImageTable string
	RunTable   string
}

// DBconn db 연결정보
type DBconn struct {
	DriverName string
	ConnInfo   string

	ImageTable string
	RunTable   string

	db *sql.DB
}

// Item 학습 이미지 항목
type Item struct {
	Subject     string
	Kind        string
	OrgFilename string
	Filename    string
	FileFormat  string
	FilePath    string
	CreateAt    time.Time
}

// Run 학습 실행 항목
type Run struct {
	RunID    string
	Name     string
	Subject  string
	Status   string
	Artifact string
	ExitCode int
	StartAt  time.Time
	FinishAt time.Time
}

func (conn *DBconn) createImageTable() error {
	if _, err := conn.db.Exec(fmt.Sprintf(`CREATE TABLE %s (
		subject CHAR(20) NOT NULL,
		kind CHAR(10) NOT NULL,
		orgfilename CHAR(64) NOT NULL,
		filename CHAR(64) NOT NULL,
		format CHAR(10) NOT NULL,
		path VARCHAR(128) NOT NULL,
		createAt DATETIME NOT NULL);`, conn.ImageTable)); err != nil {
		return err
	}

	return nil
}

func (conn *DBconn) createRunTable() error {
	if _, err := conn.db.Exec(fmt.Sprintf(`CREATE TABLE %s (
		runid CHAR(40) NOT NULL,
		name CHAR(40) NOT NULL,
		subject CHAR(20) NOT NULL,
		status CHAR(10) NOT NULL,
		artifact VARCHAR(128) NOT NULL,
		exitcode INT NOT NULL,
		startAt DATETIME NOT NULL,
		finishAt DATETIME NOT NULL);`, conn.RunTable)); err != nil {
		return err
	}

	return nil
}

func (conn *DBconn) existsTable(table string) bool {
	rows, err := conn.db.Query(fmt.Sprintf("SELECT * FROM %s;", table))
	if err != nil {
		return false
	}
	rows.Close()

	return true
}

func (conn *DBconn) initTables() error {
	if !conn.existsTable(conn.ImageTable) {
		log.Printf("Create DB table: %s", conn.ImageTable)
		if err := conn.createImageTable(); err != nil {
			return err
		}
	}

	if !conn.existsTable(conn.RunTable) {
		log.Printf("Create DB table: %s", conn.RunTable)
		if err := conn.createRunTable(); err != nil {
			return err
		}
	}

	return nil
}

// 비어있지 않은 필드만으로 WHERE 절을 구성
func itemClause(param Item) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	if param.Subject != "" {
		conds = append(conds, "subject = ?")
		args = append(args, param.Subject)
	}
	if param.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, param.Kind)
	}
	if param.Filename != "" {
		conds = append(conds, "filename = ?")
		args = append(args, param.Filename)
	}
	if param.OrgFilename != "" {
		conds = append(conds, "orgfilename = ?")
		args = append(args, param.OrgFilename)
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// Insert entry 삽입
func (conn *DBconn) Insert(item Item) error {
	createAt := item.CreateAt.Format("2006-01-02 15:04:05")

	_, err := conn.db.Exec(fmt.Sprintf(`INSERT INTO %s (
		subject,
		kind,
		orgfilename,
		filename,
		format,
		path,
		createAt) value (?, ?, ?, ?, ?, ?, ?);`, conn.ImageTable),
		item.Subject, item.Kind, item.OrgFilename, item.Filename,
		item.FileFormat, item.FilePath, createAt,
	)

	return err
}

// Get entry 조회
func (conn *DBconn) Get(param Item) (interface{}, interface{}, error) {
	clause, args := itemClause(param)

	rows, err := conn.db.Query(fmt.Sprintf(`SELECT
		subject,
		kind,
		orgfilename,
		filename,
		format,
		path,
		createAt FROM %s%s;`, conn.ImageTable, clause), args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		total      int64
		successful int64
		failed     int64
		items      []Item
	)
	for rows.Next() {
		total++

		var (
			item     Item
			createAt string
		)
		if err := rows.Scan(
			&item.Subject, &item.Kind, &item.OrgFilename, &item.Filename,
			&item.FileFormat, &item.FilePath, &createAt,
		); err != nil {
			failed++
			continue
		}

		item.CreateAt, _ = time.Parse("2006-01-02 15:04:05", createAt)
		items = append(items, item)
		successful++
	}

	infos := map[string]int64{
		"total":      total,
		"successful": successful,
		"failed":     failed,
	}

	return infos, items, nil
}

// Delete entry 삭제
func (conn *DBconn) Delete(param Item) (int64, error) {
	clause, args := itemClause(param)

	res, err := conn.db.Exec(fmt.Sprintf("DELETE FROM %s%s;", conn.ImageTable, clause), args...)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// InsertRun 학습 실행 entry 삽입
func (conn *DBconn) InsertRun(run Run) error {
	_, err := conn.db.Exec(fmt.Sprintf(`INSERT INTO %s (
		runid,
		name,
		subject,
		status,
		artifact,
		exitcode,
		startAt,
		finishAt) value (?, ?, ?, ?, ?, ?, ?, ?);`, conn.RunTable),
		run.RunID, run.Name, run.Subject, run.Status, run.Artifact,
		run.ExitCode,
		run.StartAt.Format("2006-01-02 15:04:05"),
		run.FinishAt.Format("2006-01-02 15:04:05"),
	)

	return err
}

// UpdateRun 학습 실행 entry 갱신
func (conn *DBconn) UpdateRun(run Run) error {
	_, err := conn.db.Exec(fmt.Sprintf(`UPDATE %s SET
		status = ?,
		artifact = ?,
		exitcode = ?,
		finishAt = ? WHERE runid = ?;`, conn.RunTable),
		run.Status, run.Artifact, run.ExitCode,
		run.FinishAt.Format("2006-01-02 15:04:05"),
		run.RunID,
	)

	return err
}

// GetRuns 학습 실행 entry 조회
func (conn *DBconn) GetRuns(name string) ([]Run, error) {
	var (
		clause string
		args   []interface{}
	)
	if name != "" {
		clause = " WHERE name = ?"
		args = append(args, name)
	}

	rows, err := conn.db.Query(fmt.Sprintf(`SELECT
		runid,
		name,
		subject,
		status,
		artifact,
		exitcode,
		startAt,
		finishAt FROM %s%s;`, conn.RunTable, clause), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			startAt  string
			finishAt string
		)
		if err := rows.Scan(
			&run.RunID, &run.Name, &run.Subject, &run.Status,
			&run.Artifact, &run.ExitCode, &startAt, &finishAt,
		); err != nil {
			return nil, err
		}

		run.StartAt, _ = time.Parse("2006-01-02 15:04:05", startAt)
		run.FinishAt, _ = time.Parse("2006-01-02 15:04:05", finishAt)
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// Destroy db connection 해제
func (conn *DBconn) Destroy() error {
	return conn.db.Close()
}

// New 새로운 db connection 생성
func New(cfg Config) (*DBconn, error) {
	db, err := sql.Open(cfg.DriverName, cfg.ConnInfo)
	if err != nil {
		return nil, err
	}

	conn := &DBconn{
		DriverName: cfg.DriverName,
		ConnInfo:   cfg.ConnInfo,
		ImageTable: cfg.ImageTable,
		RunTable:   cfg.RunTable,
		db:         db,
	}

	if err := conn.initTables(); err != nil {
		db.Close()
		return nil, err
	}

	return conn, nil
}
