package highpoint

import (
	"errors"
	"strings"
)

var errParse = errors.New("parse error")

type GeoKey uint16

const (
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026
	GeoKeyGeodeticCRS  GeoKey = 2048
	GeoKeyProjectedCRS GeoKey = 3072
)

// Values of GeoKeyGTRasterType.
const (
	RasterPixelIsArea  = 1
	RasterPixelIsPoint = 2
)

// userDefined is the GeoKey value for a user defined code.
const userDefined = 32767

// GeoKeys are the parsed contents of a GeoTIFF GeoKeyDirectoryTag.
type GeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey][]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKey directory and its associated double and ASCII
// parameters.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*GeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errParse
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errParse
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errParse
	}

	geoKeys := &GeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey][]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		count := int(keyValues[2])
		valueOffset := int(keyValues[3])
		switch tiffTagLocation {
		case 0:
			if count != 1 {
				return nil, errParse
			}
			geoKeys.Params[key] = valueOffset
		case 34736: // GeoDoubleParamsTag
			if valueOffset+count > len(doubleParams) {
				return nil, errParse
			}
			geoKeys.DoubleParams[key] = doubleParams[valueOffset : valueOffset+count]
		case 34737: // GeoASCIIParamsTag
			if valueOffset+count > len(asciiParams) {
				return nil, errParse
			}
			// Values are terminated by a pipe character.
			geoKeys.ASCIIParams[key] = strings.TrimSuffix(string(asciiParams[valueOffset:valueOffset+count]), "|")
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return geoKeys, nil
}

// RasterType returns the raster type, which defaults to RasterPixelIsArea.
func (k *GeoKeys) RasterType() int {
	if rasterType, ok := k.Params[GeoKeyGTRasterType]; ok {
		return rasterType
	}
	return RasterPixelIsArea
}

// EPSG returns the EPSG code of the horizontal CRS, or zero if it is unknown
// or user defined.
func (k *GeoKeys) EPSG() int {
	for _, key := range []GeoKey{GeoKeyProjectedCRS, GeoKeyGeodeticCRS} {
		if code, ok := k.Params[key]; ok && code != userDefined {
			return code
		}
	}
	return 0
}
