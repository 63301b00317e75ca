package constants

const (
	DefaultCascadeName string = "default"

	ArtifactsPath string = "/cascade/artifacts"

	DetectScaleFactor  float64 = 1.1
	DetectMinNeighbors int     = 3
)
