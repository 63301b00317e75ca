package detection

import (
	"fmt"
	"image"
	"log"
	"os"
	"path"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/qingchenkanlu/baxter-pick-and-place/detectapp/constants"
)

// Config 검출기 생성 설정정보
type Config struct {
	ArtifactsPath string
}

// Detection 학습 된 cascade 검출기를 관리
type Detection struct {
	cascades map[string]*dCascade
	rwMutex  sync.RWMutex

	artifactsPath string
}

// 단일 cascade 검출기
type dCascade struct {
	name        string
	cascadePath string

	classifier gocv.CascadeClassifier
	// DetectMultiScale은 동시 호출이 안전하지 않음
	mutex sync.Mutex
}

// Box 검출 된 객체의 영역
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d *Detection) loadCascades() error {
	entries, err := os.ReadDir(d.artifactsPath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xml") {
			continue
		}

		cascadePath := path.Join(d.artifactsPath, entry.Name())
		name := strings.TrimSuffix(entry.Name(), ".xml")

		if err := d.addCascade(name, cascadePath); err != nil {
			log.Printf("Fail to load cascade(%s): %s", cascadePath, err)
		} else {
			log.Printf("Cascade %s loaded", name)
		}
	}

	return nil
}

func (d *Detection) addCascade(name, cascadePath string) error {
	if _, ok := d.cascades[name]; ok {
		return fmt.Errorf("Duplicated cascade: %s", name)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadePath) {
		classifier.Close()
		return fmt.Errorf("Cannot read cascade file: %s", cascadePath)
	}

	d.cascades[name] = &dCascade{
		name:        name,
		cascadePath: cascadePath,
		classifier:  classifier,
	}

	return nil
}

// Detect cascade 검출기로 이미지 내 객체 검출
func (d *Detection) Detect(cascade string, buf []byte) ([]Box, error) {
	d.rwMutex.RLock()
	dc, ok := d.cascades[cascade]
	d.rwMutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("No such cascade: %s", cascade)
	}

	img, err := gocv.IMDecode(buf, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("Cannot decode image")
	}

	dc.mutex.Lock()
	rects := dc.classifier.DetectMultiScaleWithParams(
		img,
		constants.DetectScaleFactor,
		constants.DetectMinNeighbors,
		0,
		image.Point{}, image.Point{},
	)
	dc.mutex.Unlock()

	boxes := make([]Box, 0, len(rects))
	for _, rect := range rects {
		boxes = append(boxes, Box{
			X:      rect.Min.X,
			Y:      rect.Min.Y,
			Width:  rect.Dx(),
			Height: rect.Dy(),
		})
	}

	return boxes, nil
}

// GetCascades cascade 검출기 목록 반환
func (d *Detection) GetCascades() []string {
	d.rwMutex.RLock()
	defer d.rwMutex.RUnlock()

	var cascades []string
	for name := range d.cascades {
		cascades = append(cascades, name)
	}

	return cascades
}

// Reload artifact 디렉토리를 다시 읽어 새로운 cascade 검출기 로드
func (d *Detection) Reload() error {
	d.rwMutex.Lock()
	defer d.rwMutex.Unlock()

	return d.loadCascades()
}

// Destroy Detection 해제
func (d *Detection) Destroy() {
	d.rwMutex.Lock()
	defer d.rwMutex.Unlock()

	for name, dc := range d.cascades {
		if err := dc.classifier.Close(); err != nil {
			log.Printf("Fail to close cascade %s: %s", name, err)
		}
	}
	d.cascades = make(map[string]*dCascade)
}

// New 새로운 Detection 생성
func New(c Config) (*Detection, error) {
	artifactsPath := c.ArtifactsPath
	if artifactsPath == "" {
		artifactsPath = constants.ArtifactsPath
	}

	d := &Detection{
		cascades:      make(map[string]*dCascade),
		artifactsPath: artifactsPath,
	}

	if err := d.loadCascades(); err != nil {
		return nil, err
	}

	return d, nil
}
