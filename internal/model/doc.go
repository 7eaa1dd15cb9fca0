// Package model defines the domain types shared across the detection pipeline.
package model
