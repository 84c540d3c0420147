package roadhazard

import (
	"fmt"
	"os"
	"strings"

	"gocv.io/x/gocv"
)

// Device selects the OpenCV DNN backend and target a model runs on
type Device string

const (
	DeviceCPU      Device = "cpu"
	DeviceCUDA     Device = "cuda"
	DeviceCUDAFP16 Device = "cuda-fp16"
)

// ParseDevice converts a configuration string into a Device
func ParseDevice(s string) (Device, error) {

	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DeviceCPU, nil
	case DeviceCPU, DeviceCUDA, DeviceCUDAFP16:
		return d, nil
	default:
		return "", fmt.Errorf("unknown device %q, use cpu, cuda or cuda-fp16", s)
	}
}

// Net is a single loaded instance of a Model.  A gocv.Net holds its own
// input and output buffers so one instance must only run one forward pass
// at a time, use a Pool to run inference concurrently.
type Net struct {
	net gocv.Net
}

// NewNet loads the ONNX model file and binds it to the given device
func NewNet(modelFile string, device Device) (*Net, error) {

	if _, err := os.Stat(modelFile); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	net := gocv.ReadNetFromONNX(modelFile)

	if net.Empty() {
		return nil, fmt.Errorf("error loading model %s", modelFile)
	}

	var backend gocv.NetBackendType
	var target gocv.NetTargetType

	switch device {
	case DeviceCUDA:
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	case DeviceCUDAFP16:
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDAFP16
	default:
		backend, target = gocv.NetBackendDefault, gocv.NetTargetCPU
	}

	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting backend: %w", err)
	}

	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting target: %w", err)
	}

	return &Net{net: net}, nil
}

// Forward runs inference on the given input blob and returns the flattened
// fp32 output tensor along with its dimensions.  The data is copied out of
// OpenCV memory into a slice from alloc, or a new slice when alloc is nil,
// so remains valid after the call.
func (n *Net) Forward(blob gocv.Mat, alloc func(size int) []float32) ([]float32, []int, error) {

	n.net.SetInput(blob, "")

	// YOLOv8 exports have a single output layer
	out := n.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, nil, fmt.Errorf("model produced no output")
	}

	ptr, err := out.DataPtrFloat32()

	if err != nil {
		return nil, nil, fmt.Errorf("error reading output tensor: %w", err)
	}

	var data []float32

	if alloc != nil {
		data = alloc(len(ptr))
	} else {
		data = make([]float32, len(ptr))
	}

	copy(data, ptr)

	return data, out.Size(), nil
}

// Close releases the Model
func (n *Net) Close() error {
	return n.net.Close()
}
