// Package model defines core types used throughout rumgo.
//
// # Identity Types
//
//   - Locator: (container, slot) address of one indexed row, totally ordered
//   - Category: classification of a key (normal value, null, placeholders)
//
// # Data Types
//
//   - Item: a locator with its optional attached value
//   - Key: an (attribute, category, value) triple identifying one entry
//   - Posting: one extracted (key, item) pair fed into the index
//
// Locators have three sentinels: MinLocator sorts before every valid
// locator, MaxLocator after, and Lossy(container) stands for "any row in
// this container". Lossy locators never appear inside the trees.
package model
