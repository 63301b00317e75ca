package data

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/constants"
	"github.com/qingchenkanlu/baxter-pick-and-place/trainapp/data/db"
)

const (
	imageTable string = "image_tab"
	runTable   string = "run_tab"
	driverName string = "mysql"
	connInfo   string = "user1:password1@tcp(db:3306)/cascade_db?parseTime=true"
)

const (
	// 학습 이미지 종류: 검출 대상이 포함된 이미지와 배경 이미지
	KindPositive string = "positive"
	KindNegative string = "negative"
)

// Manager 학습 이미지 데이터를 관리
type Manager struct {
	Conn *db.DBconn

	datasetsPath string
}

type saveFunc func(*multipart.FileHeader, string) error

func saveImage(file *multipart.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)

	return err
}

func validKind(kind string) bool {
	return kind == KindPositive || kind == KindNegative
}

// SaveImages image 저장
func (dm *Manager) SaveImages(subject, kind string, images []*multipart.FileHeader, f saveFunc, verbose bool) (interface{}, error) {
	if !validKind(kind) {
		return nil, fmt.Errorf("Invalid image kind: %s", kind)
	}

	fileDir := path.Join(dm.datasetsPath, subject, kind)
	if err := os.MkdirAll(fileDir, os.ModePerm); err != nil {
		return nil, err
	}

	if f == nil {
		f = saveImage
	}

	var (
		total      int64
		successful int64
		failed     int64
		items      []db.Item
		errors     []map[string]interface{}
	)
	for _, image := range images {
		total++

		orgFileName := image.Filename
		fileFormat := strings.ToLower(strings.TrimPrefix(path.Ext(orgFileName), "."))
		if fileFormat == "" {
			if verbose {
				errors = append(errors, map[string]interface{}{
					"orgfilename": orgFileName,
					"error":       fmt.Sprintf("Unknown image format: %s", orgFileName),
				})
			}

			failed++
			continue
		}

		fileName := fmt.Sprintf("%s-%s", uuid.New().String()[:8], orgFileName)
		filePath := path.Join(fileDir, fileName)

		item := db.Item{
			Subject:     subject,
			Kind:        kind,
			OrgFilename: orgFileName,
			Filename:    fileName,
			FileFormat:  fileFormat,
			FilePath:    filePath,
			CreateAt:    time.Now(),
		}

		if err := dm.Conn.Insert(item); err != nil {
			if verbose {
				errors = append(errors, map[string]interface{}{
					"orgfilename": orgFileName,
					"filename":    fileName,
					"error":       err.Error(),
				})
			}

			failed++
			continue
		}

		if err := f(image, filePath); err != nil {
			if verbose {
				errors = append(errors, map[string]interface{}{
					"orgfilename": orgFileName,
					"filename":    fileName,
					"error":       err.Error(),
				})
			}

			if _, err := dm.Conn.Delete(item); err != nil {
				log.Print(err)
			}

			failed++
			continue
		}

		if verbose {
			items = append(items, item)
		}
		successful++
	}

	infos := map[string]int64{
		"total":      total,
		"successful": successful,
		"failed":     failed,
	}

	result := make(map[string]interface{})
	result["infos"] = infos

	if verbose {
		result["images"] = items
		result["errors"] = errors
	}

	return result, nil
}

// DeleteImages image 삭제
func (dm *Manager) DeleteImages(subject, kind, fileName, orgFileName string, verbose bool) (interface{}, error) {
	param := db.Item{
		Subject:     subject,
		Kind:        kind,
		Filename:    fileName,
		OrgFilename: orgFileName,
	}

	getInfos, items, err := dm.Conn.Get(param)
	if err != nil {
		return nil, err
	}

	getInfosMap := getInfos.(map[string]int64)
	if getInfosMap["total"] != getInfosMap["successful"] {
		return nil, fmt.Errorf(
			"Fail to read images %d of %d",
			getInfosMap["failed"],
			getInfosMap["total"],
		)
	}

	errors := make([]map[string]interface{}, 0)
	// 빈 디렉토리를 삭제하기 위해, subject와 kind 목록을 저장
	skMap := make(map[string]map[string]int)
	for _, item := range items.([]db.Item) {
		if err := os.Remove(item.FilePath); err != nil {
			if verbose {
				errors = append(errors, map[string]interface{}{
					"orgfilename": item.OrgFilename,
					"filename":    item.Filename,
					"error":       err.Error(),
				})
			}
		} else {
			if _, ok := skMap[item.Subject]; !ok {
				skMap[item.Subject] = make(map[string]int)
			}
			skMap[item.Subject][item.Kind]++
		}
	}

	deleted, err := dm.Conn.Delete(param)
	if err != nil {
		return nil, err
	}

	for subject := range skMap {
		for kind := range skMap[subject] {
			kindDir := path.Join(dm.datasetsPath, subject, kind)
			// "directory not empty" 에러는 무시
			os.Remove(kindDir)
		}

		subjectDir := path.Join(dm.datasetsPath, subject)
		// "directory not empty" 에러는 무시
		os.Remove(subjectDir)
	}

	infos := map[string]interface{}{
		"total":      getInfosMap["total"],
		"successful": deleted,
		"failed":     getInfosMap["total"] - deleted,
	}

	result := make(map[string]interface{})
	result["infos"] = infos

	if verbose {
		result["images"] = items
		result["errors"] = errors
	}

	return result, nil
}

// ListImages image 목록 반환
func (dm *Manager) ListImages(subject, kind string) (interface{}, error) {
	param := db.Item{
		Subject: subject,
		Kind:    kind,
	}

	infos, items, err := dm.Conn.Get(param)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"infos":  infos,
		"images": items,
	}

	return result, nil
}

// SubjectDir subject 데이터셋 디렉토리 반환
func (dm *Manager) SubjectDir(subject string) string {
	return path.Join(dm.datasetsPath, subject)
}

// WriteBackgroundList subject의 negative 이미지로 background list 파일 생성
func WriteBackgroundList(subjectDir string) (string, int, error) {
	negativeDir := path.Join(subjectDir, KindNegative)

	entries, err := os.ReadDir(negativeDir)
	if err != nil {
		return "", 0, err
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		images = append(images, path.Join(negativeDir, entry.Name()))
	}

	if len(images) == 0 {
		return "", 0, fmt.Errorf("No negative images under %s", negativeDir)
	}
	sort.Strings(images)

	bgFile := path.Join(subjectDir, constants.BgFileName)
	fp, err := os.Create(bgFile)
	if err != nil {
		return "", 0, err
	}
	defer fp.Close()

	w := bufio.NewWriter(fp)
	for _, image := range images {
		fmt.Fprintln(w, image)
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}

	return bgFile, len(images), nil
}

// VecInfo positive sample vector 파일의 헤더 정보
type VecInfo struct {
	Count   int32
	VecSize int32
}

// Matches vector 크기와 학습 윈도우 크기의 일치여부 반환
func (v VecInfo) Matches(width, height int) bool {
	return v.VecSize == int32(width*height)
}

// ReadVecInfo positive sample vector 파일의 헤더를 읽어 검증
func ReadVecInfo(vecFile string) (VecInfo, error) {
	var info VecInfo

	fp, err := os.Open(vecFile)
	if err != nil {
		return info, err
	}
	defer fp.Close()

	// opencv_createsamples 헤더: count(int32), vecSize(int32), 예약 short 2개
	var header struct {
		Count   int32
		VecSize int32
		Tmp1    int16
		Tmp2    int16
	}
	if err := binary.Read(fp, binary.LittleEndian, &header); err != nil {
		return info, fmt.Errorf("Invalid vec file %s: %s", vecFile, err)
	}

	if header.Count <= 0 || header.VecSize <= 0 {
		return info, fmt.Errorf(
			"Invalid vec header in %s: count=%d vecSize=%d",
			vecFile, header.Count, header.VecSize,
		)
	}

	info.Count = header.Count
	info.VecSize = header.VecSize

	return info, nil
}

// Destroy Data manager 해제
func (dm *Manager) Destroy() {
	if err := dm.Conn.Destroy(); err != nil {
		log.Printf("DB close failed: %s", err)
	} else {
		log.Print("DB successfully closed")
	}
}

// New 새로운 Data manager 생성
func New(datasetsPath string) (*Manager, error) {
	conn, err := db.New(db.Config{
		DriverName: driverName,
		ConnInfo:   connInfo,
		ImageTable: imageTable,
		RunTable:   runTable,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("DB %s, %s successfully initialized", imageTable, runTable)

	if datasetsPath == "" {
		datasetsPath = constants.DatasetsPath
	}

	dm := &Manager{
		Conn:         conn,
		datasetsPath: datasetsPath,
	}

	return dm, nil
}
