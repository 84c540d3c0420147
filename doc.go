/*
go-roadhazard watches a forward facing vehicle camera for road hazards.

Every frame is run through two YOLOv8 models: a custom road hazard model
detecting potholes and speedbumps, and a general COCO model from which only
people, dogs and cows are kept.  Detections are filtered by per class
confidence thresholds, checked for membership of the driver's lane and, for
the general classes, given a monocular distance estimate from their apparent
size.  The annotated frame and a hazard summary are streamed to a browser
over a WebSocket, while pothole sightings reported back by the client are
stored, de-duplicated by location and forwarded by email to the road
authority.

The models are run with OpenCV DNN through GoCV.  See the example
subdirectory for the server and a single image detection program.
*/
package roadhazard
