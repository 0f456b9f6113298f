package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// detection mirrors one entry of the detector's "detections" array.
type detection struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

var fallbackDetections = []detection{
	{Name: "Arduino Uno", Quantity: 1},
	{Name: "LED light", Quantity: 3},
	{Name: "Resistor", Quantity: 3},
	{Name: "Push button", Quantity: 1},
}

type mock struct {
	dataPath string
}

func newMock(dataPath string) *mock {
	return &mock{dataPath: dataPath}
}

func (m *mock) register(r gin.IRouter) {
	r.GET("/health", m.health)
	r.POST("/detect", m.detect)
}

func (m *mock) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model_loaded": true})
}

func (m *mock) detect(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no image uploaded"})
		return
	}

	list, err := m.load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	log.Printf("[mock-detector] %s (%d bytes) -> %d detections", fh.Filename, fh.Size, len(list))
	c.JSON(http.StatusOK, gin.H{"success": true, "detections": list})
}

// load rereads the data file on every request so it can be edited while the
// server runs. The file is validated so a bad edit shows up as an error.
func (m *mock) load() ([]detection, error) {
	b, err := os.ReadFile(m.dataPath)
	if errors.Is(err, os.ErrNotExist) {
		return fallbackDetections, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", m.dataPath, err)
	}
	var list []detection
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("%s invalid JSON: %w", m.dataPath, err)
	}
	return list, nil
}
