package constants

const (
	DatasetsPath  string = "/cascade/datasets"
	ArtifactsPath string = "/cascade/artifacts"

	TrainerBin string = "opencv_traincascade"

	VecFileName      string = "positives.vec"
	BgFileName       string = "bg.txt"
	CascadeFileName  string = "cascade.xml"
	TrainDataDirName string = "data"

	// opencv_traincascade 학습 파라미터 기본값
	NumPos                    int     = 1800
	NumNeg                    int     = 900
	NumStages                 int     = 20
	PrecalcValBufSize         int     = 2048
	PrecalcIdxBufSize         int     = 2048
	AcceptanceRatioBreakValue float64 = 1e-5
	FeatureType               string  = "HAAR"
	WindowWidth               int     = 24
	WindowHeight              int     = 24
	BoostType                 string  = "GAB"
	MinHitRate                float64 = 0.995
	MaxWeightTrimRate         float64 = 0.95
	MaxDepth                  int     = 1
	Mode                      string  = "ALL"
)
